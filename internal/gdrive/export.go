// Package gdrive uploads finished meeting transcripts and summaries to a
// shared Drive folder so the sales team can review calls after the fact.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/pitchlens/pitchlens/internal/insight"
)

type Exporter struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewExporter(ctx context.Context, credPath, folderID string) (*Exporter, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Exporter{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// ExportTranscript uploads the meeting's local markdown transcript as a Drive
// document. Re-exporting the same meeting updates the existing document.
func (e *Exporter) ExportTranscript(meetingID, localPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	name := fmt.Sprintf("pitchlens-%s", meetingID)

	if fileID, ok := e.fileIDs[meetingID]; ok {
		if _, err := e.service.Files.Update(fileID, &drive.File{}).Media(f).Do(); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	doc, err := e.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{e.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	e.fileIDs[meetingID] = doc.Id
	return nil
}

// ExportSummary uploads a standalone summary digest for the meeting.
func (e *Exporter) ExportSummary(meetingID string, summary insight.Summary) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := fmt.Sprintf("pitchlens-%s-summary", meetingID)
	doc, err := e.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{e.folderID},
	}).Media(strings.NewReader(FormatDigest(summary))).Do()
	if err != nil {
		return fmt.Errorf("drive create summary: %w", err)
	}

	e.fileIDs[meetingID+"-summary"] = doc.Id
	return nil
}

// FormatDigest renders the summary as a markdown document.
func FormatDigest(summary insight.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Meeting %s\n\n", summary.MeetingID)
	fmt.Fprintf(&b, "Generated %s · %d entries · %s\n\n",
		summary.GeneratedAt.Format(time.RFC3339),
		summary.TranscriptCount,
		time.Duration(summary.DurationSeconds*float64(time.Second)).Round(time.Second))

	if summary.Text != "" {
		b.WriteString(summary.Text)
		b.WriteString("\n")
	}

	if len(summary.KeyPoints) > 0 {
		b.WriteString("\n## Key Points\n\n")
		for _, p := range summary.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	if len(summary.ActionItems) > 0 {
		b.WriteString("\n## Action Items\n\n")
		for _, item := range summary.ActionItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	return b.String()
}
