package coord

import (
	"context"
	"errors"

	"github.com/skymind/fleetkit/bus"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/search"
	"github.com/skymind/fleetkit/store"
	"github.com/skymind/fleetkit/telemetry"
)

// HandleQuery answers coordinator introspection queries. Failures come
// back as unsuccessful responses; callers never see raw errors.
func (c *Coordinator) HandleQuery(ctx context.Context, q *bus.Query) bus.Response {
	c.queries.Add(1)

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartQuerySpan(ctx, q.Name)

	var resp bus.Response
	switch q.Name {
	case "get_task_info":
		resp = c.recordQuery(ctx, fleet.CollectionTasks, stringParam(q, "task_id"), "task")
	case "get_event_info":
		resp = c.recordQuery(ctx, fleet.CollectionEvents, stringParam(q, "event_id"), "event")
	case "get_drone_info":
		resp = c.recordQuery(ctx, fleet.CollectionDrones, stringParam(q, "drone_id"), "drone")
	case "get_available_drones":
		resp = c.availableDrones(ctx)
	case "search":
		resp = c.searchQuery(q)
	case "status":
		tasks, events := c.ActiveCounts()
		resp = bus.OK(map[string]any{
			"status":        string(c.Base.Status()),
			"cycle":         c.cycle.Load(),
			"active_tasks":  tasks,
			"active_events": events,
			"queued":        c.queues.LenByType(),
		})
	default:
		resp = bus.Fail("unknown query: " + q.Name)
	}

	tracer.EndQuerySpan(span, telemetry.QuerySpanOptions{From: q.From, Name: q.Name}, nil)
	return resp
}

func stringParam(q *bus.Query, key string) string {
	if q.Params == nil {
		return ""
	}
	s, _ := q.Params[key].(string)
	return s
}

func (c *Coordinator) recordQuery(ctx context.Context, collection, id, label string) bus.Response {
	if id == "" {
		return bus.Fail("missing " + label + "_id")
	}
	rec, err := c.st.FindByID(ctx, collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return bus.Fail(label + " not found: " + id)
	}
	if err != nil {
		return bus.Fail("lookup failed")
	}
	fields, err := rec.Fields()
	if err != nil {
		return bus.Fail("corrupt " + label + " record")
	}
	return bus.OK(map[string]any{label: fields})
}

func (c *Coordinator) searchQuery(q *bus.Query) bus.Response {
	if c.index == nil {
		return bus.Fail("search index not configured")
	}
	text := stringParam(q, "q")
	if text == "" {
		return bus.Fail("missing q")
	}

	hits, err := c.index.Search(text, search.Options{
		Kind:   stringParam(q, "kind"),
		Status: stringParam(q, "status"),
	})
	if err != nil {
		return bus.Fail("search failed")
	}

	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"id":    h.ID,
			"kind":  h.Kind,
			"title": h.Title,
			"score": h.Score,
		})
	}
	return bus.OK(map[string]any{"hits": results, "count": len(results)})
}

func (c *Coordinator) availableDrones(ctx context.Context) bus.Response {
	recs, err := c.st.Find(ctx, fleet.CollectionDrones, store.Filter{
		"status": string(fleet.DroneIdle),
	})
	if err != nil {
		return bus.Fail("lookup failed")
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		drone, err := fleet.UnmarshalDrone(rec.Data)
		if err != nil {
			continue
		}
		if drone.Available(minDispatchBattery) {
			ids = append(ids, drone.DroneID)
		}
	}
	return bus.OK(map[string]any{"drone_ids": ids, "count": len(ids)})
}
