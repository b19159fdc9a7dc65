package engine

import (
	"context"
	"fmt"
	"time"

	"hhpilot/internal/api"
	"hhpilot/internal/logging"
	"hhpilot/internal/models"
)

// ClearOptions configures one cleanup run.
type ClearOptions struct {
	// OlderThanDays widens the selection from discarded negotiations to any
	// negotiation not updated within N days. Zero keeps the default
	// discard-only selection.
	OlderThanDays int

	// Blacklist adds each deleted negotiation's employer to the blacklist.
	Blacklist bool

	// DeleteChat also moves the chat to trash through the browser-facing
	// endpoint; without a usable session the chats are skipped and counted.
	DeleteChat bool

	MaxPages int // default 20
}

// ClearStats summarizes a cleanup run.
type ClearStats struct {
	Deleted      int
	Blacklisted  int
	ChatsDeleted int
	ChatsSkipped int
}

// Clear deletes stale negotiations and optionally blacklists their employers
// and trashes their chats.
func (e *Env) Clear(ctx context.Context, opts ClearOptions) (ClearStats, error) {
	var stats ClearStats

	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}

	var blacklisted map[int64]bool
	if opts.Blacklist {
		set, err := e.blacklistedEmployers(ctx)
		if err != nil {
			return stats, err
		}
		blacklisted = set
	}

	var xsrf string
	if opts.DeleteChat {
		web := NewWebClient(e.API.Session(), e.Config.UserAgent)
		token, err := web.XSRFToken(ctx)
		if err != nil {
			logging.ClearDebug("browser session probe failed: %v", err)
		}
		xsrf = token
		if xsrf == "" {
			e.Printf("⚠️ no browser session available, chats will not be deleted")
		}
	}

	negotiations, err := e.activeNegotiations(ctx, opts.MaxPages)
	if err != nil {
		return stats, err
	}

	cutoff := time.Time{}
	if opts.OlderThanDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -opts.OlderThanDays)
	}

	for _, item := range negotiations {
		negotiation := models.NegotiationFromAPI(item)
		if err := e.Store.Negotiations.Save(negotiation); err != nil {
			logging.StoreError("negotiation %d not persisted: %v", negotiation.ID, err)
		}

		if !selectForClear(negotiation, cutoff) {
			continue
		}

		params := api.Params{}
		if negotiation.State == "response" {
			// Cancelling a still-active response carries a decline marker.
			params["with_decline_message"] = true
		}
		_, err := e.API.Request(ctx, "DELETE",
			fmt.Sprintf("negotiations/active/%d", negotiation.ID), params)
		if err != nil {
			logging.ClearDebug("negotiation %d: delete failed: %v", negotiation.ID, err)
			continue
		}
		stats.Deleted++
		logging.Clear("negotiation %d (%s) deleted", negotiation.ID, negotiation.State)

		if opts.Blacklist && negotiation.EmployerID != nil && !blacklisted[*negotiation.EmployerID] {
			if err := e.banEmployer(ctx, negotiation); err != nil {
				logging.ClearDebug("employer %d: blacklist failed: %v", *negotiation.EmployerID, err)
			} else {
				blacklisted[*negotiation.EmployerID] = true
				stats.Blacklisted++
			}
		}

		if opts.DeleteChat && negotiation.ChatID != 0 {
			if xsrf == "" {
				stats.ChatsSkipped++
				continue
			}
			web := NewWebClient(e.API.Session(), e.Config.UserAgent)
			if err := web.DeleteChat(ctx, xsrf, negotiation.ChatID); err != nil {
				logging.ClearDebug("chat %d: delete failed: %v", negotiation.ChatID, err)
				stats.ChatsSkipped++
			} else {
				stats.ChatsDeleted++
			}
		}
	}

	if stats.ChatsSkipped > 0 {
		e.Printf("⚠️ %d chats were not deleted", stats.ChatsSkipped)
	}
	return stats, nil
}

// selectForClear picks discarded negotiations; a non-zero cutoff widens the
// selection to anything not updated since the cutoff, whatever its state.
func selectForClear(n models.Negotiation, cutoff time.Time) bool {
	if n.State == "discard" {
		return true
	}
	if cutoff.IsZero() {
		return false
	}
	return !n.UpdatedAt.IsZero() && n.UpdatedAt.Before(cutoff)
}

// blacklistedEmployers loads the current blacklist so bans stay idempotent.
func (e *Env) blacklistedEmployers(ctx context.Context) (map[int64]bool, error) {
	set := map[int64]bool{}
	for page := 0; ; page++ {
		data, err := e.API.Request(ctx, "GET", "employers/blacklisted",
			api.Params{"page": page, "per_page": 100})
		if err != nil {
			return nil, err
		}
		items := pageItems(data)
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			if id := models.AsInt(item["id"]); id != 0 {
				set[id] = true
			}
		}
		if page+1 >= pageCount(data) {
			break
		}
	}
	return set, nil
}
