package forth

import "strings"

// MemoryBase is the first address handed out to variables. Addresses below it
// are free scratch cells.
const MemoryBase = 1000

// Memory is a sparse cell space with a bump allocator for named variables.
// Cells are never freed.
type Memory struct {
	cells     map[int]int
	variables map[string]int
	next      int
}

func NewMemory() *Memory {
	return &Memory{
		cells:     make(map[int]int),
		variables: make(map[string]int),
		next:      MemoryBase,
	}
}

// DeclareVariable allocates a fresh cell for name. Redeclaring a name
// allocates again and the newest address wins.
func (m *Memory) DeclareVariable(name string) int {
	addr := m.next
	m.next++
	m.variables[strings.ToLower(name)] = addr
	return addr
}

// Address returns the address of the newest variable called name.
func (m *Memory) Address(name string) (int, bool) {
	addr, ok := m.variables[strings.ToLower(name)]
	return addr, ok
}

func (m *Memory) Store(addr, value int) {
	m.cells[addr] = value
}

// Load returns the cell at addr; unwritten cells read as zero.
func (m *Memory) Load(addr int) int {
	return m.cells[addr]
}

// Reserve advances the allocation pointer by count cells.
func (m *Memory) Reserve(count int) {
	m.next += count
}

// Here is the next address that DeclareVariable will hand out.
func (m *Memory) Here() int { return m.next }
