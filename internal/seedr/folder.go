package seedr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Folder API function names.
const (
	funcAddTorrent = "add_torrent"
	funcDelete     = "delete"
)

// Timestamp layouts seen in listings, most common first.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// TokenSource provides the access token for the session a Client acts for.
// Implementations must fail with ErrAuthRequired, without network I/O, when
// no token is held.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client performs authenticated folder operations for one session.
type Client struct {
	transport *Transport
	token     TokenSource
	logger    *slog.Logger
}

// NewClient creates a folder client bound to a session's token source.
func NewClient(transport *Transport, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		transport: transport,
		token:     token,
		logger:    logger,
	}
}

// folderResponse mirrors the folder listing JSON.
type folderResponse struct {
	ID        flexID        `json:"id"`
	FolderID  flexID        `json:"folder_id"`
	Name      string        `json:"name"`
	SpaceUsed flexInt       `json:"space_used"`
	SpaceMax  flexInt       `json:"space_max"`
	Folders   []folderEntry `json:"folders"`
	Files     []fileEntry   `json:"files"`
}

type folderEntry struct {
	ID         flexID  `json:"id"`
	Name       string  `json:"name"`
	Size       flexInt `json:"size"`
	Zip        string  `json:"zip"`
	ParentID   flexID  `json:"parent"`
	LastUpdate string  `json:"last_update"`
}

type fileEntry struct {
	ID           flexID  `json:"id"`
	FolderFileID flexID  `json:"folder_file_id"`
	Name         string  `json:"name"`
	Size         flexInt `json:"size"`
	URL          string  `json:"url"`
	FolderID     flexID  `json:"folder_id"`
	LastUpdate   string  `json:"last_update"`
}

// opResponse mirrors the {result, error} envelope of folder mutations.
// result is usually a bool but some failures put a reason string there.
type opResponse struct {
	Result        json.RawMessage `json:"result"`
	Title         string          `json:"title"`
	TorrentHash   string          `json:"torrent_hash"`
	UserTorrentID flexID          `json:"user_torrent_id"`
	errorPayload
}

// ListContents fetches the folder with the given id, or the root folder
// when folderID is empty. An empty folder is a valid result.
func (c *Client) ListContents(ctx context.Context, folderID string) (*Listing, error) {
	token, err := c.token.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Info("listing folder", slog.String("folder_id", folderID))

	form := url.Values{"access_token": {token}}
	if folderID != "" {
		form.Set("id", folderID)
	}

	resp, err := c.transport.Do(ctx, "list folder", http.MethodGet, c.transport.endpoints.Folder, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr folderResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, &RemoteError{
			Op:      "list folder",
			Message: fmt.Sprintf("decoding listing: %v", err),
			Err:     ErrRemoteOperation,
		}
	}

	listing := fr.toListing(folderID, c.logger)

	c.logger.Info("listed folder",
		slog.String("folder_id", listing.FolderID),
		slog.Int("folders", len(listing.Folders)),
		slog.Int("files", len(listing.Files)),
	)

	return listing, nil
}

// ResolveDownloadLink looks itemID up in a fresh listing of folderID (root
// when empty). Files resolve to their direct URL, folders to their zip URL.
// An id in neither collection is ErrNotFound, not a remote error.
func (c *Client) ResolveDownloadLink(ctx context.Context, itemID, folderID string) (string, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return "", fmt.Errorf("seedr: resolve link: item id is required: %w", ErrInvalidInput)
	}

	listing, err := c.ListContents(ctx, folderID)
	if err != nil {
		return "", err
	}

	item, ok := listing.Find(itemID)
	if !ok {
		return "", fmt.Errorf("seedr: item %s: %w", itemID, ErrNotFound)
	}

	link := item.Link()
	if link == "" {
		c.logger.Warn("item has no download link",
			slog.String("item_id", itemID),
			slog.String("kind", item.Kind.String()),
		)

		return "", fmt.Errorf("seedr: item %s has no download link: %w", itemID, ErrNotFound)
	}

	return link, nil
}

// AddMagnet submits a magnet link, optionally into folderID. Anything but a
// magnet URI fails with ErrInvalidInput before any network call. A failure
// reported by the remote is surfaced, not retried.
func (c *Client) AddMagnet(ctx context.Context, magnet, folderID string) (*AddResult, error) {
	magnet = strings.TrimSpace(magnet)
	if err := ValidateMagnet(magnet); err != nil {
		return nil, err
	}

	token, err := c.token.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Info("adding magnet", slog.String("folder_id", folderID))

	form := url.Values{
		"access_token":   {token},
		"func":           {funcAddTorrent},
		"torrent_magnet": {magnet},
	}
	if folderID != "" {
		form.Set("folder_id", folderID)
	}

	op, err := c.mutate(ctx, "add magnet", form)
	if err != nil {
		return nil, err
	}

	result := &AddResult{
		Title:         op.Title,
		TorrentHash:   op.TorrentHash,
		UserTorrentID: string(op.UserTorrentID),
	}

	c.logger.Info("magnet added", slog.String("user_torrent_id", result.UserTorrentID))

	return result, nil
}

// DeleteItems deletes one or more items in a single request. The result is
// the remote's aggregate success flag.
func (c *Client) DeleteItems(ctx context.Context, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return fmt.Errorf("seedr: delete: at least one item id is required: %w", ErrInvalidInput)
	}

	form := url.Values{"func": {funcDelete}}

	for i, id := range itemIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("seedr: delete: empty item id at position %d: %w", i, ErrInvalidInput)
		}

		form.Set(fmt.Sprintf("delete_arr[%d]", i), id)
	}

	token, err := c.token.AccessToken(ctx)
	if err != nil {
		return err
	}

	form.Set("access_token", token)

	c.logger.Info("deleting items", slog.Int("count", len(itemIDs)))

	if _, err := c.mutate(ctx, "delete", form); err != nil {
		return err
	}

	c.logger.Info("items deleted", slog.Int("count", len(itemIDs)))

	return nil
}

// mutate posts a folder function and checks the result flag.
func (c *Client) mutate(ctx context.Context, op string, form url.Values) (*opResponse, error) {
	resp, err := c.transport.Do(ctx, op, http.MethodPost, c.transport.endpoints.Folder, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var or opResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, &RemoteError{
			Op:      op,
			Message: fmt.Sprintf("decoding response: %v", err),
			Err:     ErrRemoteOperation,
		}
	}

	if ok, reason := or.succeeded(); !ok {
		c.logger.Warn("remote reported failure",
			slog.String("op", op),
			slog.String("reason", reason),
		)

		return nil, &RemoteError{Op: op, Message: reason, Err: ErrRemoteOperation}
	}

	return &or, nil
}

// succeeded interprets the result flag. A string result other than a
// boolean literal is a failure reason; a missing flag counts as success
// only when no error is present.
func (o *opResponse) succeeded() (bool, string) {
	reason := o.code()
	if desc := o.description(); desc != "" && desc != reason {
		if reason != "" {
			reason += ": " + desc
		} else {
			reason = desc
		}
	}

	raw := bytes.TrimSpace(o.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if reason != "" {
			return false, truncate(reason)
		}

		return true, ""
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if b, perr := strconv.ParseBool(s); perr == nil {
				return finish(b, reason)
			}

			if reason == "" {
				reason = s
			}

			return false, truncate(reason)
		}
	}

	var flag flexBool
	if err := flag.UnmarshalJSON(raw); err != nil {
		return false, truncate("unrecognized result " + string(raw))
	}

	return finish(bool(flag), reason)
}

func finish(ok bool, reason string) (bool, string) {
	if ok {
		return true, ""
	}

	if reason == "" {
		reason = "remote reported failure"
	}

	return false, truncate(reason)
}

// ValidateMagnet checks that s is a magnet URI.
func ValidateMagnet(s string) error {
	if s == "" {
		return fmt.Errorf("seedr: magnet link is required: %w", ErrInvalidInput)
	}

	u, err := url.Parse(s)
	if err != nil || !strings.EqualFold(u.Scheme, "magnet") {
		return fmt.Errorf("seedr: not a magnet link: %w", ErrInvalidInput)
	}

	if u.RawQuery == "" && u.Opaque == "" {
		return fmt.Errorf("seedr: magnet link has no parameters: %w", ErrInvalidInput)
	}

	return nil
}

// toListing normalizes a folder response into a Listing.
func (fr *folderResponse) toListing(requested string, logger *slog.Logger) *Listing {
	id := string(fr.ID)
	if id == "" {
		id = string(fr.FolderID)
	}

	if id == "" {
		id = requested
	}

	l := &Listing{
		FolderID:  id,
		Name:      normalizeName(fr.Name),
		SpaceUsed: int64(fr.SpaceUsed),
		SpaceMax:  int64(fr.SpaceMax),
		Folders:   make([]RemoteItem, 0, len(fr.Folders)),
		Files:     make([]RemoteItem, 0, len(fr.Files)),
	}

	for i := range fr.Folders {
		f := &fr.Folders[i]
		l.Folders = append(l.Folders, RemoteItem{
			ID:        string(f.ID),
			Name:      normalizeName(f.Name),
			Kind:      KindFolder,
			Size:      int64(f.Size),
			ParentID:  firstNonEmpty(string(f.ParentID), id),
			ZipURL:    f.Zip,
			UpdatedAt: parseTimestamp(f.LastUpdate, string(f.ID), logger),
		})
	}

	for i := range fr.Files {
		f := &fr.Files[i]
		l.Files = append(l.Files, RemoteItem{
			ID:          firstNonEmpty(string(f.ID), string(f.FolderFileID)),
			Name:        normalizeName(f.Name),
			Kind:        KindFile,
			Size:        int64(f.Size),
			ParentID:    firstNonEmpty(string(f.FolderID), id),
			DownloadURL: f.URL,
			UpdatedAt:   parseTimestamp(f.LastUpdate, string(f.ID), logger),
		})
	}

	return l
}

// normalizeName converts names to NFC so ids and names compare the same
// regardless of which client uploaded the torrent.
func normalizeName(s string) string {
	return norm.NFC.String(s)
}

// parseTimestamp parses a listing timestamp. Unparseable values yield the
// zero time; the listing is still usable without them.
func parseTimestamp(raw, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}

	logger.Debug("invalid timestamp in listing",
		slog.String("item_id", itemID),
		slog.String("raw", raw),
	)

	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}
