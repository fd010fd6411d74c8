package forth

type opcode uint8

const (
	opCall opcode = iota
	opLiteral
	opString
	opBranch
	opBranchIfFalse
	opDo
	opLoop
	opPlusLoop
	opUntil
)

var opcodeNames = [...]string{
	opCall:          "call",
	opLiteral:       "literal",
	opString:        "string",
	opBranch:        "branch",
	opBranchIfFalse: "0branch",
	opDo:            "do",
	opLoop:          "loop",
	opPlusLoop:      "+loop",
	opUntil:         "until",
}

func (op opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "invalid"
}

// instruction is one action of a compiled word. For branches and loop ends
// value is the jump target; for do it is the position after the loop, taken
// when the bounds are equal.
type instruction struct {
	op    opcode
	name  string
	value int
}

// Word is a compiled action sequence: a colon definition, or the accessor of
// a variable or constant.
type Word struct {
	Name string
	code []instruction
}

// Len returns the number of compiled actions.
func (w *Word) Len() int { return len(w.code) }

func literalWord(name string, value int) *Word {
	return &Word{Name: name, code: []instruction{{op: opLiteral, value: value}}}
}

// controlWord is reserved vocabulary that drives compilation instead of
// executing.
type controlWord string

var controlWords = []controlWord{
	":", ";",
	"if", "else", "then",
	"do", "loop", "+loop",
	"begin", "until",
	"variable", "constant",
}

type controlFrame struct {
	word string
	pos  int
}

// compiler holds the open definition. Branch targets are backpatched once the
// closing control word is seen. An anonymous compiler collects a control
// structure typed outside a definition; it runs as soon as it is closed.
type compiler struct {
	name      string
	anonymous bool
	code      []instruction
	control   []controlFrame
}

func newCompiler(name string) *compiler {
	return &compiler{name: name}
}

func newAnonymousCompiler() *compiler {
	return &compiler{anonymous: true}
}

func (c *compiler) closed() bool { return len(c.control) == 0 }

func (c *compiler) emit(in instruction) int {
	c.code = append(c.code, in)
	return len(c.code) - 1
}

func (c *compiler) call(name string) {
	c.emit(instruction{op: opCall, name: name})
}

func (c *compiler) literal(v int) {
	c.emit(instruction{op: opLiteral, value: v})
}

func (c *compiler) text(s string) {
	c.emit(instruction{op: opString, name: s})
}

func (c *compiler) open(word string, pos int) {
	c.control = append(c.control, controlFrame{word: word, pos: pos})
}

// close pops the innermost open structure, which must have been opened by one
// of openers.
func (c *compiler) close(word string, openers ...string) (int, error) {
	i := len(c.control) - 1
	if i < 0 {
		return 0, mismatched(word)
	}
	top := c.control[i]
	for _, opener := range openers {
		if top.word == opener {
			c.control = c.control[:i]
			return top.pos, nil
		}
	}
	return 0, mismatched(word)
}

func (c *compiler) compileControl(word string) error {
	switch word {
	case "if":
		c.open(word, c.emit(instruction{op: opBranchIfFalse}))

	case "else":
		at, err := c.close(word, "if")
		if err != nil {
			return err
		}
		pos := c.emit(instruction{op: opBranch})
		c.code[at].value = pos + 1
		c.open(word, pos)

	case "then":
		at, err := c.close(word, "if", "else")
		if err != nil {
			return err
		}
		c.code[at].value = len(c.code)

	case "do":
		c.open(word, c.emit(instruction{op: opDo}))

	case "loop", "+loop":
		at, err := c.close(word, "do")
		if err != nil {
			return err
		}
		op := opLoop
		if word == "+loop" {
			op = opPlusLoop
		}
		c.emit(instruction{op: op, value: at + 1})
		c.code[at].value = len(c.code)

	case "begin":
		c.open(word, len(c.code))

	case "until":
		start, err := c.close(word, "begin")
		if err != nil {
			return err
		}
		c.emit(instruction{op: opUntil, value: start})

	default:
		return mismatched(word)
	}
	return nil
}

// finish closes the definition; every structure must have been resolved.
func (c *compiler) finish() (*Word, error) {
	if n := len(c.control); n > 0 {
		return nil, mismatched(c.control[n-1].word)
	}
	return &Word{Name: c.name, code: c.code}, nil
}
