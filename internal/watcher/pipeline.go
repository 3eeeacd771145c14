package watcher

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/nerrad567/instance-watch/internal/history"
	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/metrics"
	"github.com/nerrad567/instance-watch/internal/status"
	"github.com/nerrad567/instance-watch/internal/store"
)

// evaluate is the pipeline of one instance: evaluate, apply to the catalog,
// record the transition, update the aggregate, persist and publish.
// A failed evaluation keeps the previous status.
func (w *Watcher) evaluate(id string) {
	ctx, err := w.runContext()
	if err != nil {
		return
	}
	inst, ok := w.catalog.Get(id)
	if !ok {
		return
	}

	start := w.clock.Now()
	res, err := w.eval.Evaluate(ctx, inst)
	if err != nil {
		w.metrics.EvaluationFailed()
		w.logger.Error("evaluation failed, keeping previous status",
			"instance", id,
			"operating", inst.Operating,
			"error", err,
		)
		return
	}

	now := w.clock.Now()
	w.catalog.Update(id, func(i *instance.Instance) { res.Apply(i, now) })
	w.rememberResult(id, res)
	st := res.Status()

	w.publishInstance(ctx, id, res)

	w.aggMu.Lock()
	change := w.book.Record(id, st, now)
	w.setNotOperating(id, res.Enabled && !res.Operating)
	count := len(w.notOperating)
	w.persist(ctx, id, change)
	if change.Instance {
		w.publishInstanceLog(ctx, id)
	}
	w.publishAggregateLocked(ctx, now)
	w.aggMu.Unlock()

	if w.sink != nil {
		w.sink.WriteInstanceStatus(id, inst.Mode.String(), res.Enabled, res.Operating, now)
		w.sink.WriteSummary(count, w.catalog.Len(), now)
	}
	w.metrics.ObserveEvaluation(resultLabel(st), now.Sub(start))
	w.metrics.SetNotOperating(count)

	w.logger.Debug("instance evaluated",
		"instance", id,
		"status", string(st),
		"transition", change.Any(),
	)
}

func resultLabel(s history.Status) string {
	switch s {
	case history.StatusOperating:
		return metrics.ResultOperating
	case history.StatusDisabled:
		return metrics.ResultDisabled
	default:
		return metrics.ResultNotOperating
	}
}

// setNotOperating adds or removes id from the sorted aggregate list.
// Caller must hold w.aggMu.
func (w *Watcher) setNotOperating(id string, failing bool) {
	i, found := slices.BinarySearch(w.notOperating, id)
	switch {
	case failing && !found:
		w.notOperating = slices.Insert(w.notOperating, i, id)
	case !failing && found:
		w.notOperating = slices.Delete(w.notOperating, i, i+1)
	}
}

// persist saves the logs that changed. Caller must hold w.aggMu.
func (w *Watcher) persist(ctx context.Context, id string, change history.Change) {
	if w.repo == nil {
		return
	}
	if change.Summary {
		if err := w.repo.Save(ctx, history.SummaryTarget, w.book.Summary()); err != nil {
			w.logger.Error("saving summary log", "error", err)
		}
	}
	if change.Instance {
		if err := w.repo.Save(ctx, id, w.book.Instance(id)); err != nil {
			w.logger.Error("saving instance log", "instance", id, "error", err)
		}
	}
}

// rememberResult records the signal values read by an evaluation so that
// repeated notifications of the same value are ignored.
func (w *Watcher) rememberResult(id string, res status.Result) {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	if res.Alive != nil {
		w.signals[store.AliveKey(id)] = *res.Alive
	}
	if res.ConnectedHost != nil {
		w.signals[store.ConnectedKey(id)] = *res.ConnectedHost
	}
	if res.ConnectedService != nil {
		w.signals[store.ServiceConnectionKey(id)] = *res.ConnectedService
	}
}

// publishStatic writes the mode, schedule and log states of every instance.
func (w *Watcher) publishStatic(ctx context.Context) {
	for _, inst := range w.catalog.Snapshot() {
		w.set(ctx, w.keys.instance(inst.ID, stateMode), inst.Mode.String())
		if inst.Mode == instance.ModeScheduled {
			w.set(ctx, w.keys.instance(inst.ID, stateSchedule), inst.Schedule)
		}
		w.publishInstanceLog(ctx, inst.ID)
	}
}

// publishInstance writes the status states of id.
func (w *Watcher) publishInstance(ctx context.Context, id string, res status.Result) {
	w.set(ctx, w.keys.instance(id, stateIsOperating), res.Operating)
	w.set(ctx, w.keys.instance(id, stateEnabled), res.Enabled)
	w.set(ctx, w.keys.instance(id, stateOn), res.Enabled)
	w.set(ctx, w.keys.instance(id, stateOff), !res.Enabled)
}

// publishButtons acknowledges the on/off states from the catalog.
func (w *Watcher) publishButtons(ctx context.Context, id string) {
	inst, ok := w.catalog.Get(id)
	if !ok {
		return
	}
	w.set(ctx, w.keys.instance(id, stateOn), inst.Enabled)
	w.set(ctx, w.keys.instance(id, stateOff), !inst.Enabled)
}

func (w *Watcher) publishInstanceLog(ctx context.Context, id string) {
	if w.cfg.MaxLogInstance <= 0 {
		return
	}
	w.setJSON(ctx, w.keys.instance(id, stateLog), w.book.Instance(id))
}

// publishAggregate writes the aggregate states.
func (w *Watcher) publishAggregate(ctx context.Context) {
	w.aggMu.Lock()
	defer w.aggMu.Unlock()
	w.publishAggregateLocked(ctx, w.clock.Now())
}

// publishAggregateLocked writes the aggregate states. Caller must hold w.aggMu.
func (w *Watcher) publishAggregateLocked(ctx context.Context, now time.Time) {
	w.set(ctx, w.keys.info(infoCount), len(w.notOperating))
	w.setJSON(ctx, w.keys.info(infoList), append([]string{}, w.notOperating...))
	if w.cfg.MaxLogSummary > 0 {
		w.setJSON(ctx, w.keys.info(infoLog), w.book.Summary())
	}
	w.set(ctx, w.keys.info(infoUpdated), now.UnixMilli())
}

// set writes an acknowledged state; failures are logged.
func (w *Watcher) set(ctx context.Context, key string, val any) {
	if err := w.store.SetState(ctx, key, val, true); err != nil {
		w.logger.Warn("publishing state", "key", key, "error", err)
	}
}

// setJSON writes v as a JSON string state.
func (w *Watcher) setJSON(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.logger.Error("encoding state", "key", key, "error", err)
		return
	}
	w.set(ctx, key, string(data))
}
