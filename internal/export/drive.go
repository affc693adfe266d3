package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
)

const folderMime = "application/vnd.google-apps.folder"

// DriveOptions configures NewDriveExporter.
type DriveOptions struct {
	CredentialsFile string
	TokenFile       string
	FolderName      string
}

// DriveExporter uploads transcripts and analysis JSON to Google Drive
type DriveExporter struct {
	service    *drive.Service
	folderName string
	folderID   string
	log        *logrus.Entry
	now        func() time.Time

	// newBackOff returns the upload retry policy; replaced in tests.
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	folders map[string]string // "parentID/name" -> folder ID
}

// NewDriveExporter creates a Drive exporter from OAuth client credentials and
// a token cached by AuthorizeDrive.
func NewDriveExporter(ctx context.Context, opts DriveOptions, log *logrus.Entry) (*DriveExporter, error) {
	config, err := driveConfig(opts.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(opts.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("no Drive token at %s (run analyze -authorize-drive): %w", opts.TokenFile, err)
	}

	client := config.Client(context.Background(), tok)
	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %v", err)
	}
	return NewDriveExporterWithService(ctx, srv, opts.FolderName, log)
}

// NewDriveExporterWithService wraps an existing Drive service and makes sure
// the root folder exists.
func NewDriveExporterWithService(ctx context.Context, srv *drive.Service, folderName string, log *logrus.Entry) (*DriveExporter, error) {
	if folderName == "" {
		folderName = "Speech Insights"
	}
	de := &DriveExporter{
		service:    srv,
		folderName: folderName,
		log:        log.WithField("exporter", "gdrive"),
		now:        time.Now,
		folders:    make(map[string]string),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return backoff.WithMaxRetries(b, 2)
		},
	}

	id, err := de.findOrCreateFolder(ctx, folderName, "")
	if err != nil {
		return nil, fmt.Errorf("unable to prepare Drive folder %q: %w", folderName, err)
	}
	de.folderID = id
	return de, nil
}

func driveConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}
	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}
	return config, nil
}

// AuthorizeDrive runs the one-time OAuth consent flow on the terminal and
// caches the token at tokenFile.
func AuthorizeDrive(ctx context.Context, credentialsFile, tokenFile string, in io.Reader, out io.Writer) error {
	config, err := driveConfig(credentialsFile)
	if err != nil {
		return err
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser:\n%v\n", authURL)
	fmt.Fprint(out, "Enter authorization code: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("unable to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("no authorization code entered")
	}

	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return saveToken(tokenFile, tok)
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// Name implements Exporter.
func (de *DriveExporter) Name() string { return "gdrive" }

// Export implements Exporter. Transient Drive failures are retried.
func (de *DriveExporter) Export(ctx context.Context, view *analysis.CompositeView) error {
	var link string
	op := func() error {
		var err error
		link, err = de.Upload(ctx, view)
		if err != nil && !retryableDrive(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		de.log.WithError(err).WithField("retry_in", wait.String()).Warn("Drive upload failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(de.newBackOff(), ctx), notify); err != nil {
		return err
	}
	de.log.WithFields(logrus.Fields{"audio_id": view.Audio.ID, "url": link}).Info("uploaded analysis to Drive")
	return nil
}

// Upload uploads transcript and analysis JSON into Speech Insights/2025/01/23/
// and returns a link to the JSON file.
func (de *DriveExporter) Upload(ctx context.Context, view *analysis.CompositeView) (string, error) {
	now := de.now()
	folderID, err := de.ensureDateFolder(ctx, now)
	if err != nil {
		return "", err
	}
	base := baseName(view, now)

	txtFile := &drive.File{
		Name:    base + ".txt",
		Parents: []string{folderID},
	}
	_, err = de.service.Files.Create(txtFile).
		Media(strings.NewReader(transcriptText(view)), googleapi.ContentType("text/plain; charset=utf-8")).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	data, err := analysisJSON(view)
	if err != nil {
		return "", err
	}
	jsonFile := &drive.File{
		Name:    base + "_analysis.json",
		Parents: []string{folderID},
	}
	created, err := de.service.Files.Create(jsonFile).
		Media(bytes.NewReader(data), googleapi.ContentType("application/json")).
		Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload analysis: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested year/month/day folders
func (de *DriveExporter) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	parent := de.folderID
	for _, name := range datePath(t) {
		id, err := de.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

// findOrCreateFolder finds or creates a folder with the given parent; an empty
// parent means the Drive root.
func (de *DriveExporter) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	key := parentID + "/" + name
	de.mu.Lock()
	defer de.mu.Unlock()
	if id, ok := de.folders[key]; ok {
		return id, nil
	}

	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), folderMime)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}
	r, err := de.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to search for folder %q: %w", name, err)
	}

	var id string
	if len(r.Files) > 0 {
		id = r.Files[0].Id
	} else {
		folder := &drive.File{Name: name, MimeType: folderMime}
		if parentID != "" {
			folder.Parents = []string{parentID}
		}
		file, err := de.service.Files.Create(folder).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to create folder %q: %w", name, err)
		}
		id = file.Id
	}
	de.folders[key] = id
	return id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// retryableDrive treats rate limits, server errors and transport failures as transient.
func retryableDrive(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
