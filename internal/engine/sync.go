package engine

import (
	"context"

	"hhpilot/internal/logging"
	"hhpilot/internal/models"
)

// UpdateResumes republishes every resume the portal allows to be touched.
func (e *Env) UpdateResumes(ctx context.Context) (int, error) {
	data, err := e.API.Request(ctx, "GET", "resumes/mine", nil)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, item := range pageItems(data) {
		resume := models.ResumeFromAPI(item)
		if err := e.Store.Resumes.Save(resume); err != nil {
			logging.StoreError("resume %s not persisted: %v", resume.ID, err)
		}
		if !resume.CanPublishOrUpdate {
			continue
		}
		if _, err := e.API.Request(ctx, "POST", "resumes/"+resume.ID+"/publish", nil); err != nil {
			logging.APIWarn("resume %s: publish failed: %v", resume.ID, err)
			continue
		}
		updated++
		e.Printf("✅ resume %q republished", resume.Title)
	}
	return updated, nil
}

// SyncNegotiations mirrors the active negotiations list into the local store.
func (e *Env) SyncNegotiations(ctx context.Context, maxPages int) (int, error) {
	if maxPages <= 0 {
		maxPages = 20
	}
	items, err := e.activeNegotiations(ctx, maxPages)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, item := range items {
		if err := e.Store.Negotiations.SavePayload(item); err != nil {
			logging.StoreError("negotiation not persisted: %v", err)
			continue
		}
		synced++
	}
	return synced, nil
}
