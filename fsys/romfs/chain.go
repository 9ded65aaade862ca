package romfs

// chainWalker follows the next-in-bucket links of a hash chain.
//
//	w := walkChain(table, head, next)
//	for w.Next() {
//		r := w.Record()
//	}
//	if err := w.Err(); err != nil { ... }
type chainWalker[R any] struct {
	table *entityTable[R]
	next  func(R) uint32
	cur   uint32
	steps int
	rec   R
	err   error
}

func walkChain[R any](t *entityTable[R], head uint32, next func(R) uint32) *chainWalker[R] {
	return &chainWalker[R]{table: t, next: next, cur: head}
}

func dirNext(r DirRecord) uint32   { return r.NextHash }
func fileNext(r FileRecord) uint32 { return r.NextHash }

// Next advances to the next record of the chain. It returns false at the
// end of the chain or on error.
func (w *chainWalker[R]) Next() bool {
	if w.err != nil || w.cur == none {
		return false
	}
	if w.steps >= w.table.limit() {
		w.err = w.table.corrupt(w.cur, "hash chain does not terminate")
		return false
	}
	rec, err := w.table.get(w.cur)
	if err != nil {
		w.err = err
		return false
	}
	w.steps++
	w.rec = rec
	w.cur = w.next(rec)
	return true
}

// Record returns the record produced by the last call to Next.
func (w *chainWalker[R]) Record() R { return w.rec }

// Err returns the error that stopped the walk, if any.
func (w *chainWalker[R]) Err() error { return w.err }
