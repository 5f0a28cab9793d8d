package vm

import "github.com/chazu/pmachine/bytecode"

// The heap grows down from the top of the data store. Each block is
// preceded by a word holding its size.

// malloc reserves size zeroed words and returns the address of the first.
func (m *Machine) malloc(size int) (int, error) {
	if size < 0 {
		return 0, faultf(InvalidAddress, "cannot allocate %d words", size)
	}
	np := m.np - size - 1
	if np < m.sp {
		return 0, faultf(OutOfMemory, "out of memory allocating %d words (sp %d, np %d)", size, m.sp, m.np)
	}
	m.dstore[np] = bytecode.Int(size)
	for a := np + 1; a <= np+size; a++ {
		m.dstore[a] = bytecode.Int(0)
	}
	m.np = np
	return np + 1, nil
}

// free releases the block at address. Only the most recently allocated
// live block is reclaimed; freeing any other block leaks it.
func (m *Machine) free(address int) error {
	if address-1 < m.np || address > len(m.dstore) {
		return faultf(InvalidAddress, "free of %d outside heap [%d, %d)", address, m.np, len(m.dstore))
	}
	sizeWord := m.dstore[address-1]
	size := sizeWord.AsInt()
	if sizeWord.Kind != bytecode.KindInt || size < 0 || address+size > len(m.dstore) {
		return faultf(InvalidAddress, "free of %d: corrupt block size %s", address, sizeWord)
	}
	if address != m.np+1 {
		log.Debugf("free of interior block %d leaks %d words", address, size+1)
		return nil
	}
	for a := m.np; a < address+size; a++ {
		m.dstore[a] = bytecode.Undefined
	}
	m.np += size + 1
	return nil
}
