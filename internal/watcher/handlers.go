package watcher

import (
	"context"
	"reflect"

	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/store"
)

// handleSignal routes acknowledged changes of alive, connected and
// info.connection states to the debounce.
func (w *Watcher) handleSignal(ev store.Event) {
	if ev.State == nil || !ev.State.Ack {
		return
	}
	id, sig := store.ParseKey(ev.Key)
	switch sig {
	case store.SignalAlive, store.SignalConnected, store.SignalServiceConnection:
	default:
		return
	}
	if _, ok := w.catalog.Get(id); !ok {
		return
	}
	if !w.signalChanged(ev.Key, ev.State.Val) {
		return
	}
	w.logger.Debug("signal changed", "instance", id, "key", ev.Key, "value", ev.State.Val)
	w.coalescer.RequestUpdate(id)
}

// signalChanged stores val as the last value of key and reports whether it differs.
func (w *Watcher) signalChanged(key string, val any) bool {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()

	prev, seen := w.signals[key]
	if seen && reflect.DeepEqual(prev, val) {
		return false
	}
	w.signals[key] = val
	return true
}

// handleObject reacts to changed instance objects: a changed enabled flag
// queues an evaluation, a changed schedule re-arms the trigger.
func (w *Watcher) handleObject(ev store.Event) {
	if ev.Object == nil {
		return
	}
	id, sig := store.ParseKey(ev.Key)
	if sig != store.SignalInstanceObject {
		return
	}
	inst, ok := w.catalog.Get(id)
	if !ok {
		return
	}
	common := ev.Object.Common

	if common.Enabled != nil && *common.Enabled != inst.Enabled {
		w.coalescer.RequestUpdate(id)
	}

	// An object without a schedule leaves the armed one alone.
	if inst.Mode == instance.ModeScheduled && common.Schedule != "" && common.Schedule != inst.Schedule {
		w.updateSchedule(id, common.Schedule)
	}
}

// updateSchedule re-arms the trigger of id in place; the schedule state is
// published from a goroutine.
func (w *Watcher) updateSchedule(id, expr string) {
	if _, err := w.runContext(); err != nil {
		return
	}
	w.catalog.Update(id, func(i *instance.Instance) { i.Schedule = expr })
	inst, _ := w.catalog.Get(id)

	w.goAsync(func(ctx context.Context) {
		// A later change may have overtaken this one.
		if cur, ok := w.catalog.Get(id); ok {
			w.set(ctx, w.keys.instance(id, stateSchedule), cur.Schedule)
		}
	})
	if err := w.scheduler.Rearm(inst); err != nil {
		w.logger.Error("schedule not armed", "instance", id, "schedule", expr, "error", err)
		return
	}
	w.logger.Info("schedule changed", "instance", id, "schedule", expr)
	w.coalescer.RequestUpdate(id)
}

// handleCommand routes unacknowledged writes to instances.<id>.on, .off
// and .enabled to the controller. A falsy on switches off and a falsy off
// switches on. Commands run in their own goroutine.
func (w *Watcher) handleCommand(ev store.Event) {
	if ev.State == nil || ev.State.Ack {
		return
	}
	id, name, ok := w.keys.parseCommand(ev.Key)
	if !ok {
		return
	}

	var flag bool
	switch name {
	case stateOn:
		flag = store.Truthy(ev.State.Val)
	case stateOff:
		flag = !store.Truthy(ev.State.Val)
	case stateEnabled:
		b, isBool := ev.State.Val.(bool)
		if !isBool {
			w.logger.Warn("ignoring non-boolean enabled command", "instance", id, "value", ev.State.Val)
			return
		}
		flag = b
	default:
		return
	}

	w.goAsync(func(ctx context.Context) {
		if err := w.SetEnabled(ctx, id, flag); err != nil {
			w.logger.Error("command failed", "instance", id, "command", name, "error", err)
		}
		w.publishButtons(ctx, id)
	})
}

// goAsync runs fn in a goroutine with the watcher's context, unless the
// watcher is not running. Stop waits for it.
func (w *Watcher) goAsync(fn func(ctx context.Context)) {
	w.mu.Lock()
	if w.stopped || !w.started {
		w.mu.Unlock()
		return
	}
	ctx := w.ctx
	w.tasks.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.tasks.Done()
		fn(ctx)
	}()
}
