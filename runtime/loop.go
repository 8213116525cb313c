package runtime

import (
	"github.com/ketju/ginja/nodes"
)

// stepFn produces loop items; ok is false when exhausted.
type stepFn func() (v any, ok bool, err error)

// lookahead pulls items from a step function and supports full
// materialization for the loop triggers (length, revindex, ...). Items
// drained by materialize are replayed from the buffer, so emission order is
// unchanged.
type lookahead struct {
	step stepFn
	buf  []any
	done bool
	err  error
}

func (la *lookahead) Next() (any, bool, error) {
	if len(la.buf) > 0 {
		v := la.buf[0]
		la.buf = la.buf[1:]
		return v, true, nil
	}
	if la.done {
		return nil, false, la.err
	}
	v, ok, err := la.step()
	if err != nil {
		la.done = true
		la.err = err
		return nil, false, err
	}
	if !ok {
		la.done = true
		return nil, false, nil
	}
	return v, true, nil
}

// materialize drains the remaining items into the replay buffer and
// returns how many are left to iterate.
func (la *lookahead) materialize() int {
	for !la.done {
		v, ok, err := la.step()
		if err != nil {
			la.err = err
			la.done = true
			break
		}
		if !ok {
			la.done = true
			break
		}
		la.buf = append(la.buf, v)
	}
	return len(la.buf)
}

// loopState is the object bound to "loop" inside a for body.
type loopState struct {
	la *lookahead

	index   int // 1-based
	cur     any
	prev    any
	hasPrev bool
	next    any
	hasNext bool

	length      int
	lengthKnown bool

	depth int

	changedPrev []any
	changedSeen bool

	recurseFn func(iterable any) (any, error)
	undef     UndefinedFactory
}

func (ls *loopState) advance(cur, next any, hasNext bool) {
	if ls.index > 0 {
		ls.prev = ls.cur
		ls.hasPrev = true
	}
	ls.index++
	ls.cur = cur
	ls.next = next
	ls.hasNext = hasNext
}

// computeLength materializes the rest of the iterator once.
func (ls *loopState) computeLength() int {
	if ls.lengthKnown {
		return ls.length
	}
	rest := ls.la.materialize()
	ls.length = ls.index + rest
	if ls.hasNext {
		ls.length++
	}
	ls.lengthKnown = true
	return ls.length
}

func (ls *loopState) undefined(name string) any {
	if ls.undef != nil {
		return ls.undef(name, "", nil)
	}
	return LenientUndefined(name, "", nil)
}

func (ls *loopState) attr(name string) (any, bool) {
	switch name {
	case "index":
		return int64(ls.index), true
	case "index0":
		return int64(ls.index - 1), true
	case "revindex":
		return int64(ls.computeLength() - ls.index + 1), true
	case "revindex0":
		return int64(ls.computeLength() - ls.index), true
	case "first":
		return ls.index == 1, true
	case "last":
		return !ls.hasNext, true
	case "length":
		return int64(ls.computeLength()), true
	case "depth":
		return int64(ls.depth + 1), true
	case "depth0":
		return int64(ls.depth), true
	case "previtem":
		if ls.hasPrev {
			return ls.prev, true
		}
		return ls.undefined("loop.previtem"), true
	case "nextitem":
		if ls.hasNext {
			return ls.next, true
		}
		return ls.undefined("loop.nextitem"), true
	case "cycle":
		return boundCallable(func(_ *evaluator, args Args) (any, error) {
			if len(args.Positional) == 0 {
				return nil, NewRuntimeError("loop.cycle requires at least one value")
			}
			return args.Positional[(ls.index-1)%len(args.Positional)], nil
		}), true
	case "changed":
		return boundCallable(func(_ *evaluator, args Args) (any, error) {
			if ls.changedSeen && listsEqual(ls.changedPrev, args.Positional) {
				return false, nil
			}
			ls.changedPrev = append([]any(nil), args.Positional...)
			ls.changedSeen = true
			return true, nil
		}), true
	}
	return nil, false
}

// recurse re-enters the loop body with a new iterable one level deeper.
func (ls *loopState) recurse(args Args) (any, error) {
	if ls.recurseFn == nil {
		return nil, NewRuntimeError("loop is not callable: mark the for loop 'recursive'")
	}
	if len(args.Positional) != 1 {
		return nil, NewRuntimeError("loop() takes exactly one iterable argument")
	}
	return ls.recurseFn(args.Positional[0])
}

func listsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (ev *evaluator) execFor(t *nodes.For) error {
	iterVal, err := ev.evalExpr(t.Iter)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	it, err := iterate(iterVal)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	return ev.runLoop(t, it, 0)
}

// runLoop drives one level of a for statement. The iterator is consumed at
// most one item ahead of the body unless a loop trigger materializes it.
func (ev *evaluator) runLoop(t *nodes.For, base iterator, depth int) error {
	step := ev.stepper(t, base)
	la := &lookahead{step: step}

	cur, ok, err := la.Next()
	if err != nil {
		return err
	}
	if !ok {
		return ev.execStmts(t.Else)
	}

	ls := &loopState{la: la, depth: depth, undef: ev.env.undefined}
	if t.Recursive {
		ls.recurseFn = func(iterable any) (any, error) {
			sub, err := iterate(iterable)
			if err != nil {
				return nil, withPosition(err, ev.ctx.name, t.Position())
			}
			s, err := ev.renderToString(func() error {
				return ev.runLoop(t, sub, depth+1)
			})
			if err != nil {
				return nil, err
			}
			if ev.ctx.autoescape {
				return Markup(s), nil
			}
			return s, nil
		}
	}

	loopFrame := ev.ctx.push()
	defer ev.ctx.pop(loopFrame)
	ev.ctx.Set("loop", ls)

	for ok {
		next, nok, nerr := la.Next()
		ls.advance(cur, next, nok)

		bodyFrame := ev.ctx.push()
		if err := ev.assign(t.Target, cur); err != nil {
			ev.ctx.pop(bodyFrame)
			return err
		}
		err := ev.execStmts(t.Body)
		ev.ctx.pop(bodyFrame)

		if err != nil {
			switch err.(type) {
			case *breakErr:
				return nil
			case *continueErr:
				// fall through to the next item
			default:
				return err
			}
		}
		if nerr != nil {
			return nerr
		}
		cur, ok = next, nok
	}
	return nil
}

// stepper wraps the base iterator with the loop's inline filter. The filter
// sees the loop target bound in a scratch frame; filtered-out items never
// reach the loop object, so previtem/nextitem are adjacent in the filtered
// stream.
func (ev *evaluator) stepper(t *nodes.For, base iterator) stepFn {
	if t.Filter == nil {
		return func() (any, bool, error) {
			v, ok := base()
			return v, ok, nil
		}
	}
	return func() (any, bool, error) {
		for {
			v, ok := base()
			if !ok {
				return nil, false, nil
			}
			frame := ev.ctx.push()
			err := ev.assign(t.Target, v)
			var keep bool
			if err == nil {
				var cond any
				cond, err = ev.evalExpr(t.Filter)
				if err == nil {
					keep, err = truth(cond)
				}
			}
			ev.ctx.pop(frame)
			if err != nil {
				return nil, false, withPosition(err, ev.ctx.name, t.Position())
			}
			if keep {
				return v, true, nil
			}
		}
	}
}
