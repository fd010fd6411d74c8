package forth

// frame is an executing compiled word and its instruction pointer.
type frame struct {
	word *Word
	ip   int
}

// task is the resumable remainder of a line: the unread tokens, the words
// being executed, and the completion callback.
type task struct {
	tokens *Tokenizer
	frames []frame
	done   func()
	steps  int
}

func newTask(line string, done func()) *task {
	if done == nil {
		done = func() {}
	}
	return &task{tokens: NewTokenizer(line), done: done}
}

func (t *task) push(w *Word) {
	t.frames = append(t.frames, frame{word: w})
}

// current returns the innermost frame, dropping frames that ran off their end.
func (t *task) current() *frame {
	for n := len(t.frames); n > 0; n = len(t.frames) {
		fr := &t.frames[n-1]
		if fr.ip < len(fr.word.code) {
			return fr
		}
		t.frames = t.frames[:n-1]
	}
	return nil
}
