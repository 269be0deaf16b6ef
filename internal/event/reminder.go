package event

import (
	"context"
	"fmt"
	"time"
)

// TypeReminder is the plain reminder event type: no extra payload beyond
// the common shape, dispatched as a push notification.
const TypeReminder = "reminder"

// ReminderHandler renders a Definition's title/description and hands it to
// the notification collaborator.
func ReminderHandler() Handler {
	return Handler{
		Execute: func(ctx context.Context, def Definition, n Notifier) error {
			if def.UserID == nil || *def.UserID == "" {
				return fmt.Errorf("reminder %q has no owning user", def.ParentID)
			}
			rendered := def.Title
			if def.Description != "" {
				rendered += "\n" + def.Description
			}
			payload := map[string]any{
				"type":     def.Type,
				"parentId": def.ParentID,
			}
			if def.StartDateTime != nil {
				payload["startDateTime"] = def.StartDateTime.UTC().Format(time.RFC3339)
			}
			if def.EndDateTime != nil {
				payload["endDateTime"] = def.EndDateTime.UTC().Format(time.RFC3339)
			}
			return n.Send(ctx, *def.UserID, rendered, payload)
		},
	}
}
