package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hhpilot/internal/api"
	"hhpilot/internal/logging"
	"hhpilot/internal/models"
)

// ReplyOptions configures one reply run.
type ReplyOptions struct {
	// Template, when set, answers every chat without asking the LLM or the
	// user. Supports {a|b} alternations and %(name)s placeholders.
	Template string

	// Instruction steers the LLM when no template is given.
	Instruction string

	// OnlyInvitations restricts handling to states starting with "inv".
	OnlyInvitations bool

	// PeriodDays skips negotiations not updated within the last N days;
	// zero disables the cutoff.
	PeriodDays int

	MaxPages int // default 20

	// Interactive falls back to a prompt when neither template nor LLM can
	// produce a reply.
	Interactive bool
}

// ReplyStats summarizes a reply run.
type ReplyStats struct {
	Replied int
	Skipped int
	Banned  int
}

type chatMessage struct {
	createdAt       time.Time
	participantType string
	text            string
}

// Reply walks active negotiations and answers chats that await a response.
func (e *Env) Reply(ctx context.Context, opts ReplyOptions) (ReplyStats, error) {
	var stats ReplyStats

	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}

	published, err := e.PublishedResumes(ctx, "")
	if err != nil {
		return stats, err
	}
	publishedIDs := make(map[string]bool, len(published))
	resumesByID := make(map[string]models.Resume, len(published))
	for _, r := range published {
		publishedIDs[r.ID] = true
		resumesByID[r.ID] = r
	}

	negotiations, err := e.activeNegotiations(ctx, opts.MaxPages)
	if err != nil {
		return stats, err
	}

	for _, item := range negotiations {
		negotiation := models.NegotiationFromAPI(item)
		if err := e.Store.Negotiations.Save(negotiation); err != nil {
			logging.StoreError("negotiation %d not persisted: %v", negotiation.ID, err)
		}

		if !publishedIDs[negotiation.ResumeID] {
			stats.Skipped++
			continue
		}
		if negotiation.State == "discard" {
			stats.Skipped++
			continue
		}
		if opts.OnlyInvitations && !strings.HasPrefix(negotiation.State, "inv") {
			stats.Skipped++
			continue
		}
		if opts.PeriodDays > 0 && !negotiation.UpdatedAt.IsZero() &&
			time.Since(negotiation.UpdatedAt) > time.Duration(opts.PeriodDays)*24*time.Hour {
			stats.Skipped++
			continue
		}

		handled, err := e.replyToNegotiation(ctx, negotiation, resumesByID[negotiation.ResumeID], item, opts, &stats)
		if err != nil {
			return stats, err
		}
		if !handled {
			stats.Skipped++
		}
	}
	return stats, nil
}

// activeNegotiations pages through the active negotiations list.
func (e *Env) activeNegotiations(ctx context.Context, maxPages int) ([]models.Payload, error) {
	var all []models.Payload
	for page := 0; page < maxPages; page++ {
		data, err := e.API.Request(ctx, "GET", "negotiations", api.Params{
			"status":   "active",
			"page":     page,
			"per_page": 100,
		})
		if err != nil {
			return nil, err
		}
		items := pageItems(data)
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		if page+1 >= pageCount(data) {
			break
		}
	}
	return all, nil
}

// chatHistory pages through a negotiation's messages in portal order.
func (e *Env) chatHistory(ctx context.Context, negotiationID int64) ([]chatMessage, error) {
	var history []chatMessage
	for page := 0; ; page++ {
		data, err := e.API.Request(ctx, "GET",
			fmt.Sprintf("negotiations/%d/messages", negotiationID),
			api.Params{"page": page, "per_page": 100})
		if err != nil {
			return nil, err
		}
		items := pageItems(data)
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			history = append(history, chatMessage{
				createdAt:       models.AsTime(item["created_at"]),
				participantType: models.AsString(pathValue(item, "author.participant_type")),
				text:            strings.TrimSpace(models.AsString(item["text"])),
			})
		}
		if page+1 >= pageCount(data) {
			break
		}
	}
	return history, nil
}

// lastNonEmpty returns the newest message that carries text.
func lastNonEmpty(history []chatMessage) (chatMessage, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].text != "" {
			return history[i], true
		}
	}
	return chatMessage{}, false
}

// replyToNegotiation decides whether a chat needs an answer and sends one.
func (e *Env) replyToNegotiation(
	ctx context.Context,
	negotiation models.Negotiation,
	resume models.Resume,
	item models.Payload,
	opts ReplyOptions,
	stats *ReplyStats,
) (bool, error) {
	history, err := e.chatHistory(ctx, negotiation.ID)
	if err != nil {
		logging.ReplyWarn("negotiation %d: chat history failed: %v", negotiation.ID, err)
		return false, nil
	}

	last, ok := lastNonEmpty(history)
	if !ok {
		return false, nil
	}

	viewed := models.AsBool(item["viewed_by_opponent"])
	if last.participantType != "employer" && viewed {
		return false, nil
	}

	vacancy := models.Vacancy{
		ID:   negotiation.VacancyID,
		Name: models.AsString(pathValue(item, "vacancy.name")),
	}
	employerName := models.AsString(pathValue(item, "vacancy.employer.name"))
	vars := e.Placeholders(ctx, resume, vacancy, employerName)

	message, done, err := e.draftReply(ctx, negotiation, vacancy, history, last, vars, opts, stats)
	if err != nil {
		return false, err
	}
	if done || message == "" {
		return done, nil
	}

	applyPause()
	_, err = e.API.Request(ctx, "POST",
		fmt.Sprintf("negotiations/%d/messages", negotiation.ID),
		api.Params{"message": message})
	if err != nil {
		logging.ReplyWarn("negotiation %d: send failed: %v", negotiation.ID, err)
		return false, nil
	}

	stats.Replied++
	e.Printf("📨 replied to %q", vacancy.Name)
	logging.Reply("negotiation %d (%s): replied", negotiation.ID, vacancy.Name)
	return true, nil
}

// draftReply produces the outgoing text. Priority: template, LLM,
// interactive prompt. Interactive commands: /ban blacklists the employer,
// /cancel <msg> declines the negotiation.
func (e *Env) draftReply(
	ctx context.Context,
	negotiation models.Negotiation,
	vacancy models.Vacancy,
	history []chatMessage,
	last chatMessage,
	vars map[string]string,
	opts ReplyOptions,
	stats *ReplyStats,
) (string, bool, error) {
	if opts.Template != "" {
		return renderTemplate(opts.Template, vars), false, nil
	}

	if e.LLM != nil && e.LLM.Enabled() {
		prompt := replyPrompt(vacancy.Name, history, opts.Instruction)
		message, err := e.LLM.Complete(ctx, "", prompt)
		if err != nil {
			logging.ReplyWarn("negotiation %d: completion failed: %v", negotiation.ID, err)
			return "", false, nil
		}
		return message, false, nil
	}

	if !opts.Interactive {
		return "", false, nil
	}

	e.Printf("💬 %s", vacancy.Name)
	e.Printf("   employer: %s", last.text)
	e.Printf("   reply (empty to skip, /ban, /cancel <message>):")

	line, err := e.ReadLine()
	if err != nil {
		return "", false, err
	}

	switch {
	case line == "":
		return "", false, nil
	case line == "/ban":
		if err := e.banEmployer(ctx, negotiation); err != nil {
			logging.ReplyWarn("negotiation %d: ban failed: %v", negotiation.ID, err)
			return "", false, nil
		}
		stats.Banned++
		e.Printf("🚫 employer blacklisted")
		return "", true, nil
	case strings.HasPrefix(line, "/cancel"):
		decline := strings.TrimSpace(strings.TrimPrefix(line, "/cancel"))
		if err := e.declineNegotiation(ctx, negotiation.ID, decline); err != nil {
			logging.ReplyWarn("negotiation %d: decline failed: %v", negotiation.ID, err)
			return "", false, nil
		}
		e.Printf("✅ negotiation declined")
		return "", true, nil
	default:
		return line, false, nil
	}
}

// replyPrompt assembles the LLM prompt: vacancy, the last ten history lines,
// and the user instruction.
func replyPrompt(vacancyName string, history []chatMessage, instruction string) string {
	var lines []string
	for _, m := range history {
		if m.text == "" {
			continue
		}
		lines = append(lines, m.participantType+": "+m.text)
	}
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	if instruction == "" {
		instruction = "Ответьте вежливо и по существу от лица соискателя."
	}
	return "Вакансия: " + vacancyName +
		"\nПереписка:\n" + strings.Join(lines, "\n") +
		"\n\n" + instruction
}

// banEmployer adds the negotiation's employer to the blacklist. Hidden
// employers have no id and cannot be banned.
func (e *Env) banEmployer(ctx context.Context, negotiation models.Negotiation) error {
	if negotiation.EmployerID == nil {
		return fmt.Errorf("negotiation %d has a hidden employer", negotiation.ID)
	}
	_, err := e.API.Request(ctx, "PUT",
		fmt.Sprintf("employers/blacklisted/%d", *negotiation.EmployerID), nil)
	return err
}

// declineNegotiation removes an active negotiation, optionally attaching a
// decline message.
func (e *Env) declineNegotiation(ctx context.Context, negotiationID int64, message string) error {
	params := api.Params{}
	if message != "" {
		params["with_decline_message"] = true
		params["message"] = message
	}
	_, err := e.API.Request(ctx, "DELETE",
		fmt.Sprintf("negotiations/active/%d", negotiationID), params)
	return err
}
