// workers/squad_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"squad-wager-system/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirroredSquadFromDirectory matches the JSON response from the squad
// directory service.
type MirroredSquadFromDirectory struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	LeaderID    string    `json:"leader_id"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetSquadChangesResponse is the top-level structure of the directory response.
type GetSquadChangesResponse struct {
	Squads []MirroredSquadFromDirectory `json:"squads"`
}

type SquadSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8500"
	endpointPath string // e.g., "/api/v1/public/squads"
	serviceToken string
	httpClient   *http.Client
}

func NewSquadSyncWorker(db *gorm.DB, directoryBaseURL, endpointPath, serviceToken string) *SquadSyncWorker {
	return &SquadSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      directoryBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *SquadSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Squad Sync Worker (directory → squads)…")
	go w.run(ctx)
}

func (w *SquadSyncWorker) run(ctx context.Context) {
	// Initial sync (backfill if needed) - sync from the beginning of time
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial squad sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lastSyncTime := w.getLastSyncTime()
			if err := w.syncBatch(ctx, lastSyncTime); err != nil {
				log.Printf("❌ Squad sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Squad Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent UpdatedAt from the local squads table.
func (w *SquadSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(updated_at) FROM squads WHERE deleted_at IS NULL").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

// syncBatch fetches squad changes from the directory service and upserts the
// local mirror. Only directory-owned fields are overwritten on conflict: the
// wallet balance and the match stats are owned by this service and must never
// be clobbered by a sync.
func (w *SquadSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid squad directory URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.Printf("[SYNC] ❌ Request to %s failed: %v", finalURL, err)
		return fmt.Errorf("HTTP request to squad directory failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("[SYNC] ❌ Squad directory returned %d for %s: %s", resp.StatusCode, finalURL, string(body))
		return fmt.Errorf("squad directory non-200 response: %d", resp.StatusCode)
	}

	var response GetSquadChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode squad directory response: %w", err)
	}

	if len(response.Squads) == 0 {
		return nil
	}

	log.Printf("[SYNC] 📥 Processing %d squad(s) from directory…", len(response.Squads))

	var upsertCount, errorCount int
	for _, remote := range response.Squads {
		localSquad := models.Squad{
			ID:          remote.ID,
			Name:        remote.Name,
			Slug:        slug.Make(remote.Name),
			LeaderID:    remote.LeaderID,
			MemberCount: remote.MemberCount,
			CreatedAt:   remote.CreatedAt,
			UpdatedAt:   remote.UpdatedAt,
		}

		if err := w.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "slug", "leader_id", "member_count", "updated_at",
			}),
		}).Create(&localSquad).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] ⚠️ Failed to upsert squad (id=%q, name=%q): %v",
				remote.ID, remote.Name, err)
		} else {
			upsertCount++
		}
	}

	log.Printf("[SYNC] ✅ Synced %d squad(s) (%d upserted, %d errors)",
		len(response.Squads), upsertCount, errorCount)
	return nil
}
