package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oritocare/companion/internal/backend"
	"github.com/oritocare/companion/internal/core"
)

// registerAll wires every tool the agent may dispatch. Handlers return
// short plain-text summaries; mutating handlers carry no idempotency
// keys, so repeated calls create repeated records.
func (s *Service) registerAll() {
	s.registerMedications()
	s.registerJournal()
	s.registerReminders()
	s.registerRelatives()
	s.registerEmergency()
	s.registerLocation()
	s.registerProfile()
	s.registerAura()
	s.registerReports()
	s.registerTime()
}

func (s *Service) registerMedications() {
	s.registry.Register(
		def("get_medications", "List all of the patient's medications.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			meds, err := s.backend.ListMedications(ctx)
			if err != nil {
				return "", err
			}
			if len(meds) == 0 {
				return "No medications are registered.", nil
			}
			lines := make([]string, 0, len(meds))
			for _, m := range meds {
				line := m.Name
				if m.Dosage != "" {
					line += " (" + m.Dosage + ")"
				}
				if m.Schedule != "" {
					line += " at " + m.Schedule
				}
				lines = append(lines, line)
			}
			return "Medications: " + strings.Join(lines, "; ") + ".", nil
		})

	s.registry.Register(
		def("get_pending_medications", "List medications not yet taken today.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			meds, err := s.backend.PendingMedications(ctx)
			if err != nil {
				return "", err
			}
			if len(meds) == 0 {
				return "All medications have been taken today.", nil
			}
			names := make([]string, 0, len(meds))
			for _, m := range meds {
				names = append(names, m.Name)
			}
			return "Still to take: " + strings.Join(names, ", ") + ".", nil
		})

	s.registry.Register(
		def("add_medication", "Add a new medication.",
			map[string]interface{}{
				"name":     prop("string", "Medication name"),
				"dosage":   prop("string", "Dosage, e.g. 100mg"),
				"schedule": prop("string", "When to take it, e.g. 08:00 daily"),
			}, "name"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, err := requireArg(args, "name")
			if err != nil {
				return "", err
			}
			med, err := s.backend.AddMedication(ctx, backend.Medication{
				Name:     name,
				Dosage:   strArg(args, "dosage"),
				Schedule: strArg(args, "schedule"),
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Added medication %s.", med.Name), nil
		})

	s.registry.Register(
		def("update_medication", "Update an existing medication.",
			map[string]interface{}{
				"id":       prop("string", "Medication id"),
				"name":     prop("string", "New name"),
				"dosage":   prop("string", "New dosage"),
				"schedule": prop("string", "New schedule"),
			}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			med, err := s.backend.UpdateMedication(ctx, id, backend.Medication{
				Name:     strArg(args, "name"),
				Dosage:   strArg(args, "dosage"),
				Schedule: strArg(args, "schedule"),
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Updated medication %s.", med.Name), nil
		})

	s.registry.Register(
		def("delete_medication", "Remove a medication.",
			map[string]interface{}{"id": prop("string", "Medication id")}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.DeleteMedication(ctx, id); err != nil {
				return "", err
			}
			return "Medication removed.", nil
		})

	s.registry.Register(
		def("mark_medication_taken", "Mark a medication as taken.",
			map[string]interface{}{"id": prop("string", "Medication id")}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.TakeMedication(ctx, id); err != nil {
				return "", err
			}
			return "Marked as taken.", nil
		})
}

func (s *Service) registerJournal() {
	s.registry.Register(
		def("get_journal_entries", "List recent journal entries.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			entries, err := s.backend.ListJournal(ctx)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "The journal is empty.", nil
			}
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				line := e.CreatedAt.Format("Jan 2")
				if e.Mood != "" {
					line += " (" + e.Mood + ")"
				}
				line += ": " + summarize(e.Content, 80)
				lines = append(lines, line)
			}
			return "Journal entries: " + strings.Join(lines, " | "), nil
		})

	s.registry.Register(
		def("search_journal", "Search journal entries by text.",
			map[string]interface{}{"query": prop("string", "Search text")}, "query"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, err := requireArg(args, "query")
			if err != nil {
				return "", err
			}
			entries, err := s.backend.SearchJournal(ctx, query)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return fmt.Sprintf("No journal entries mention %q.", query), nil
			}
			return fmt.Sprintf("%d journal entries mention %q; the latest says: %s",
				len(entries), query, summarize(entries[0].Content, 120)), nil
		})

	s.registry.Register(
		def("add_journal_entry", "Write a new journal entry.",
			map[string]interface{}{
				"content": prop("string", "Entry text"),
				"mood":    prop("string", "Mood word, e.g. happy"),
			}, "content"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			content, err := requireArg(args, "content")
			if err != nil {
				return "", err
			}
			if _, err := s.backend.AddJournalEntry(ctx, backend.JournalEntry{
				Content: content,
				Mood:    strArg(args, "mood"),
			}); err != nil {
				return "", err
			}
			return "Journal entry saved.", nil
		})

	s.registry.Register(
		def("update_journal_entry", "Edit a journal entry.",
			map[string]interface{}{
				"id":      prop("string", "Entry id"),
				"content": prop("string", "New text"),
			}, "id", "content"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			content, err := requireArg(args, "content")
			if err != nil {
				return "", err
			}
			if err := s.backend.UpdateJournalEntry(ctx, id, backend.JournalEntry{Content: content}); err != nil {
				return "", err
			}
			return "Journal entry updated.", nil
		})

	s.registry.Register(
		def("delete_journal_entry", "Delete a journal entry.",
			map[string]interface{}{"id": prop("string", "Entry id")}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.DeleteJournalEntry(ctx, id); err != nil {
				return "", err
			}
			return "Journal entry deleted.", nil
		})
}

func (s *Service) registerReminders() {
	s.registry.Register(
		def("get_reminders", "List all reminders.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			reminders, err := s.backend.ListReminders(ctx)
			if err != nil {
				return "", err
			}
			return formatReminders(reminders, "No reminders are set."), nil
		})

	s.registry.Register(
		def("get_active_reminders", "List reminders still pending.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			reminders, err := s.backend.ActiveReminders(ctx)
			if err != nil {
				return "", err
			}
			return formatReminders(reminders, "Nothing is pending right now."), nil
		})

	s.registry.Register(
		def("add_reminder", "Create a reminder.",
			map[string]interface{}{
				"title":     prop("string", "What to remind about"),
				"time":      prop("string", "When, e.g. 15:00 or tomorrow morning"),
				"recurring": prop("boolean", "Repeat daily"),
			}, "title", "time"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			title, err := requireArg(args, "title")
			if err != nil {
				return "", err
			}
			at, err := requireArg(args, "time")
			if err != nil {
				return "", err
			}
			if _, err := s.backend.AddReminder(ctx, backend.Reminder{
				Title:     title,
				Time:      at,
				Recurring: boolArg(args, "recurring"),
			}); err != nil {
				return "", err
			}
			return fmt.Sprintf("Reminder %q set for %s.", title, at), nil
		})

	s.registry.Register(
		def("update_reminder", "Change a reminder.",
			map[string]interface{}{
				"id":    prop("string", "Reminder id"),
				"title": prop("string", "New title"),
				"time":  prop("string", "New time"),
			}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.UpdateReminder(ctx, id, backend.Reminder{
				Title: strArg(args, "title"),
				Time:  strArg(args, "time"),
			}); err != nil {
				return "", err
			}
			return "Reminder updated.", nil
		})

	s.registry.Register(
		def("delete_reminder", "Remove a reminder.",
			map[string]interface{}{"id": prop("string", "Reminder id")}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.DeleteReminder(ctx, id); err != nil {
				return "", err
			}
			return "Reminder removed.", nil
		})

	s.registry.Register(
		def("complete_reminder", "Mark a reminder as done.",
			map[string]interface{}{"id": prop("string", "Reminder id")}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.CompleteReminder(ctx, id); err != nil {
				return "", err
			}
			return "Reminder completed.", nil
		})
}

func (s *Service) registerRelatives() {
	s.registry.Register(
		def("get_relatives", "List registered family members and contacts.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			relatives, err := s.cachedRelatives(ctx)
			if err != nil {
				return "", err
			}
			if len(relatives) == 0 {
				return "No relatives are registered.", nil
			}
			lines := make([]string, 0, len(relatives))
			for _, r := range relatives {
				lines = append(lines, fmt.Sprintf("%s (%s)", r.Name, r.Relationship))
			}
			return "Relatives: " + strings.Join(lines, ", ") + ".", nil
		})

	s.registry.Register(
		def("add_relative", "Register a family member or contact.",
			map[string]interface{}{
				"name":         prop("string", "Full name"),
				"relationship": prop("string", "Relationship, e.g. daughter"),
				"phone":        prop("string", "Phone number"),
			}, "name", "relationship"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, err := requireArg(args, "name")
			if err != nil {
				return "", err
			}
			relationship, err := requireArg(args, "relationship")
			if err != nil {
				return "", err
			}
			if _, err := s.backend.AddRelative(ctx, backend.Relative{
				Name:         name,
				Relationship: relationship,
				Phone:        strArg(args, "phone"),
			}); err != nil {
				return "", err
			}
			s.invalidateRelatives()
			return fmt.Sprintf("Added %s as %s.", name, relationship), nil
		})

	s.registry.Register(
		def("update_relative", "Update a relative's details.",
			map[string]interface{}{
				"id":    prop("string", "Relative id"),
				"name":  prop("string", "New name"),
				"phone": prop("string", "New phone"),
			}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.UpdateRelative(ctx, id, backend.Relative{
				Name:  strArg(args, "name"),
				Phone: strArg(args, "phone"),
			}); err != nil {
				return "", err
			}
			s.invalidateRelatives()
			return "Relative updated.", nil
		})

	s.registry.Register(
		def("delete_relative", "Remove a relative.",
			map[string]interface{}{"id": prop("string", "Relative id")}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.DeleteRelative(ctx, id); err != nil {
				return "", err
			}
			s.invalidateRelatives()
			return "Relative removed.", nil
		})
}

func (s *Service) registerEmergency() {
	s.registry.Register(
		def("trigger_emergency_alert", "Raise an SOS alert to caregivers.",
			map[string]interface{}{
				"level":  prop("integer", "Severity 1-5, 5 is most urgent"),
				"reason": prop("string", "What happened"),
			}, "reason"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			level := intArg(args, "level")
			if level == 0 {
				level = 3
			}
			reason, err := requireArg(args, "reason")
			if err != nil {
				return "", err
			}
			event, err := s.backend.TriggerSOS(ctx, level, reason)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Emergency alert sent at level %d. Caregivers have been notified (alert %s).",
				event.Level, event.ID), nil
		})

	s.registry.Register(
		def("get_active_alerts", "List unresolved SOS alerts.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			events, err := s.backend.ActiveSOS(ctx)
			if err != nil {
				return "", err
			}
			if len(events) == 0 {
				return "There are no active alerts.", nil
			}
			lines := make([]string, 0, len(events))
			for _, e := range events {
				lines = append(lines, fmt.Sprintf("level %d: %s", e.Level, e.Reason))
			}
			return "Active alerts: " + strings.Join(lines, "; ") + ".", nil
		})

	s.registry.Register(
		def("resolve_alert", "Mark an SOS alert as resolved.",
			map[string]interface{}{"id": prop("string", "Alert id")}, "id"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := requireArg(args, "id")
			if err != nil {
				return "", err
			}
			if err := s.backend.ResolveSOS(ctx, id); err != nil {
				return "", err
			}
			return "Alert resolved.", nil
		})
}

func (s *Service) registerLocation() {
	s.registry.Register(
		def("get_my_location", "Get the patient's last known location.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			loc, err := s.backend.PatientLocation(ctx, s.backend.PatientUID())
			if err != nil {
				return "", err
			}
			if loc.Address != "" {
				return "Last known location: " + loc.Address + ".", nil
			}
			return fmt.Sprintf("Last known location: %.5f, %.5f.", loc.Latitude, loc.Longitude), nil
		})
}

func (s *Service) registerProfile() {
	s.registry.Register(
		def("get_user_profile", "Get the patient's profile.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			profile, err := s.backend.UserProfile(ctx)
			if err != nil {
				return "", err
			}
			parts := []string{"Name: " + profile.Name}
			if profile.Age > 0 {
				parts = append(parts, fmt.Sprintf("Age: %d", profile.Age))
			}
			if profile.Condition != "" {
				condition := profile.Condition
				if profile.Severity != "" {
					condition += " (" + profile.Severity + ")"
				}
				parts = append(parts, "Condition: "+condition)
			}
			if len(profile.Preferences) > 0 {
				parts = append(parts, "Preferences: "+strings.Join(profile.Preferences, ", "))
			}
			return strings.Join(parts, ". ") + ".", nil
		})

	s.registry.Register(
		def("get_caregivers", "List linked caregivers.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			caregivers, err := s.backend.Caregivers(ctx)
			if err != nil {
				return "", err
			}
			if len(caregivers) == 0 {
				return "No caregivers are linked.", nil
			}
			names := make([]string, 0, len(caregivers))
			for _, c := range caregivers {
				if c.Name != "" {
					names = append(names, c.Name)
				} else {
					names = append(names, c.Email)
				}
			}
			return "Caregivers: " + strings.Join(names, ", ") + ".", nil
		})

	s.registry.Register(
		def("add_caregiver", "Link a caregiver by email.",
			map[string]interface{}{"email": prop("string", "Caregiver email")}, "email"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			email, err := requireArg(args, "email")
			if err != nil {
				return "", err
			}
			if err := s.backend.AddCaregiver(ctx, email); err != nil {
				return "", err
			}
			return fmt.Sprintf("Caregiver %s linked.", email), nil
		})

	s.registry.Register(
		def("remove_caregiver", "Unlink a caregiver.",
			map[string]interface{}{"email": prop("string", "Caregiver email")}, "email"),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			email, err := requireArg(args, "email")
			if err != nil {
				return "", err
			}
			if err := s.backend.RemoveCaregiver(ctx, email); err != nil {
				return "", err
			}
			return "Caregiver unlinked.", nil
		})
}

func (s *Service) registerAura() {
	s.registry.Register(
		def("check_aura_status", "Check whether the Aura module is connected.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			snapshot, err := s.ModuleStatus(ctx)
			if err != nil {
				return "", err
			}
			if snapshot.Connected {
				return fmt.Sprintf("The Aura module is connected at %s with %s available.",
					snapshot.IP, strings.Join(snapshot.Features, ", ")), nil
			}
			return "The Aura module is offline right now.", nil
		})

	s.registry.Register(
		def("identify_person_in_front", "Use the Aura camera to identify who is in front of the patient.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			// Nudge the module first so the camera grabs a fresh frame.
			if s.session != nil && s.session.IsConnected() {
				if err := s.session.Send("identify_person", nil); err != nil {
					s.log.Debug("module identify nudge failed: %v", err)
				}
			}

			result, err := s.backend.IdentifyPerson(ctx)
			if err != nil {
				return "", err
			}
			if !result.Identified {
				return "I couldn't recognize the person in front of you.", nil
			}

			// Enrich with the registered relationship when we know them.
			relationship := result.Relationship
			if relationship == "" {
				if relatives, err := s.cachedRelatives(ctx); err == nil {
					for _, r := range relatives {
						if strings.EqualFold(r.Name, result.Name) {
							relationship = r.Relationship
							break
						}
					}
				}
			}

			if relationship != "" {
				return fmt.Sprintf("That's %s, your %s.", result.Name, relationship), nil
			}
			return fmt.Sprintf("That's %s.", result.Name), nil
		})

	s.registry.Register(
		def("get_live_context", "Get what the Aura module currently hears in the room.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			lc, err := s.backend.LiveContext(ctx)
			if err != nil {
				return "", err
			}
			if lc.Transcript == "" {
				return "The room is quiet right now.", nil
			}
			return "Heard in the room: " + summarize(lc.Transcript, 200), nil
		})

	s.registry.Register(
		def("scan_for_aura_module", "Scan the local network for the Aura module.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			if s.scanner == nil {
				return "", fmt.Errorf("scanner unavailable")
			}
			var found []string
			err := s.scanner.ScanForAuraModule(ctx, nil, func(desc core.ModuleDescriptor) {
				found = append(found, desc.IP)
			})
			if errors.Is(err, core.ErrModuleNotFound) || (err == nil && len(found) == 0) {
				return "I couldn't find the Aura module on this network.", nil
			}
			if err != nil {
				return "", err
			}
			return "Found an Aura module at " + strings.Join(found, ", ") + ".", nil
		})

	s.registry.Register(
		def("connect_aura_module", "Connect to the Aura module found on the network.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			if s.connectModule == nil || s.scanner == nil {
				return "", fmt.Errorf("module session unavailable")
			}
			desc := s.scanner.GetSavedModule()
			if desc == nil {
				return "No Aura module is known yet. Try scanning for it first.", nil
			}
			if err := s.connectModule(*desc); err != nil {
				return "", err
			}
			return fmt.Sprintf("Connecting to the Aura module at %s.", desc.IP), nil
		})

	s.registry.Register(
		def("disconnect_aura_module", "Disconnect from the Aura module.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			if s.session == nil {
				return "", fmt.Errorf("module session unavailable")
			}
			s.session.Disconnect()
			return "Disconnected from the Aura module.", nil
		})
}

func (s *Service) registerReports() {
	s.registry.Register(
		def("get_daily_report", "Get today's care summary report.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			report, err := s.backend.DailyReport(ctx)
			if err != nil {
				return "", err
			}
			return formatReport("Today", report), nil
		})

	s.registry.Register(
		def("get_weekly_report", "Get the weekly care summary report.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			report, err := s.backend.WeeklyReport(ctx)
			if err != nil {
				return "", err
			}
			return formatReport("This week", report), nil
		})

	s.registry.Register(
		def("get_emotion_report", "Get the recent emotion trend report.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			report, err := s.backend.EmotionReport(ctx)
			if err != nil {
				return "", err
			}
			return formatReport("Emotion trend", report), nil
		})

	s.registry.Register(
		def("get_recent_conversations", "Recall recent conversations with the assistant.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			interactions, err := s.backend.RecentInteractions(ctx)
			if err != nil {
				return "", err
			}
			if len(interactions) == 0 {
				return "We haven't talked recently.", nil
			}
			lines := make([]string, 0, len(interactions))
			for i, it := range interactions {
				if i >= 5 {
					break
				}
				lines = append(lines, summarize(it.UserText, 60))
			}
			return "Recently you asked about: " + strings.Join(lines, "; ") + ".", nil
		})
}

func (s *Service) registerTime() {
	s.registry.Register(
		def("get_current_time", "Tell the current time.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "It is " + time.Now().Format("3:04 PM") + ".", nil
		})

	s.registry.Register(
		def("get_current_date", "Tell today's date.", nil),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "Today is " + time.Now().Format("Monday, January 2, 2006") + ".", nil
		})
}

func formatReminders(reminders []backend.Reminder, empty string) string {
	if len(reminders) == 0 {
		return empty
	}
	lines := make([]string, 0, len(reminders))
	for _, r := range reminders {
		lines = append(lines, fmt.Sprintf("%s at %s", r.Title, r.Time))
	}
	return "Reminders: " + strings.Join(lines, "; ") + "."
}

func formatReport(label string, report map[string]interface{}) string {
	if summary, ok := report["summary"].(string); ok && summary != "" {
		return label + ": " + summary
	}
	if len(report) == 0 {
		return label + ": nothing to report."
	}
	parts := make([]string, 0, len(report))
	for k, v := range report {
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	return label + ": " + strings.Join(parts, ", ")
}

func summarize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
