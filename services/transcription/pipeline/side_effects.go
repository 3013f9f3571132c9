package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/observability"
)

// createTasks records one task per action item. Failures are logged and
// never fail the run.
func (o *Orchestrator) createTasks(ctx context.Context, log *slog.Logger, m *entity.Meeting) {
	if m.Analysis == nil || len(m.Analysis.ActionItems) == 0 {
		return
	}

	ctx, span := o.Tracer.StartSpan(ctx, observability.SpanTaskCreate)
	tasks := TasksFromAnalysis(m, o.IDs.NextString, o.Now().UTC())
	err := o.Store.CreateTasks(ctx, tasks)
	observability.EndSpan(span, err)

	if err != nil {
		o.Metrics.TaskFailures.Inc()
		log.Error("failed to create tasks",
			slog.Int("count", len(tasks)),
			slog.String("error", err.Error()))
		return
	}
	o.Metrics.TasksCreated.Add(float64(len(tasks)))
	log.Debug("tasks created", slog.Int("count", len(tasks)))
}

// TasksFromAnalysis maps action items to tasks, one each, in order.
func TasksFromAnalysis(m *entity.Meeting, nextID func() string, now time.Time) []entity.Task {
	if m.Analysis == nil {
		return nil
	}

	tasks := make([]entity.Task, 0, len(m.Analysis.ActionItems))
	for _, item := range m.Analysis.ActionItems {
		priority := item.Priority
		if priority == "" {
			priority = entity.PriorityMedium
		}
		var deadline *time.Time
		if item.Deadline != nil {
			d := *item.Deadline
			deadline = &d
		}
		tasks = append(tasks, entity.Task{
			ID:           nextID(),
			MeetingID:    m.ID,
			OwnerID:      m.OwnerID,
			Description:  item.Description,
			Assignee:     item.Assignee,
			Priority:     priority,
			Deadline:     deadline,
			Dependencies: slices.Clone(item.Dependencies),
			CreatedAt:    now,
		})
	}
	return tasks
}

// CalendarEvents derives one reminder event per action item with a deadline.
func CalendarEvents(m *entity.Meeting) []entity.CalendarEvent {
	if m.Analysis == nil {
		return nil
	}

	var out []entity.CalendarEvent
	for _, item := range m.Analysis.ActionItems {
		if item.Deadline == nil {
			continue
		}
		description := item.Description
		if item.Assignee != "" {
			description += "\nAssignee: " + item.Assignee
		}
		if m.Title != "" {
			description += "\nFrom meeting: " + m.Title
		}
		out = append(out, entity.CalendarEvent{
			Title:           item.Description,
			Description:     description,
			Start:           *item.Deadline,
			End:             item.Deadline.Add(consts.CalendarEventDuration),
			ReminderMinutes: consts.CalendarReminderMinutes,
		})
	}
	return out
}

// dispatchCalendar sends calendar events in the background. The run does not
// wait for it and its outcome never changes the meeting status.
func (o *Orchestrator) dispatchCalendar(ctx context.Context, log *slog.Logger, m *entity.Meeting) {
	if o.Calendar == nil {
		log.Debug("calendar sync requested but no calendar client configured")
		return
	}
	evs := CalendarEvents(m)
	if len(evs) == 0 {
		return
	}

	cred, err := o.Store.GetCalendarCredential(ctx, m.OwnerID)
	if err != nil {
		log.Info("skipping calendar sync, no credential", slog.String("error", err.Error()))
		o.Metrics.CalendarEvents.WithLabelValues("skipped").Add(float64(len(evs)))
		return
	}

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.CalendarTimeout)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer cancel()

		detached, span := o.Tracer.StartSpan(detached, observability.SpanCalendar)
		ids, err := o.Calendar.CreateEvents(detached, *cred, evs)
		observability.EndSpan(span, err)

		o.Metrics.CalendarEvents.WithLabelValues("created").Add(float64(len(ids)))
		if err != nil {
			o.Metrics.CalendarEvents.WithLabelValues("failed").Add(float64(len(evs) - len(ids)))
			log.Warn("calendar sync failed",
				slog.Int("created", len(ids)),
				slog.Int("requested", len(evs)),
				slog.String("error", err.Error()))
			return
		}
		log.Info("calendar events created", slog.Int("count", len(ids)))
	}()
}
