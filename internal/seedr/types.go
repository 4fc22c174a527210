package seedr

import "time"

// DeviceCodeGrant is one outstanding device authorization. DeviceCode is a
// polling secret and is never logged; UserCode and VerificationURI are what
// the end-user sees.
type DeviceCodeGrant struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                time.Duration
	IssuedAt                time.Time
	ExpiresAt               time.Time // zero if the server did not say
}

// ItemKind distinguishes files from folders in a listing.
type ItemKind int

const (
	KindFile ItemKind = iota
	KindFolder
)

func (k ItemKind) String() string {
	if k == KindFolder {
		return "folder"
	}

	return "file"
}

// RemoteItem is a read-only view of one entry in a Seedr folder listing.
// Fields are normalized from the API response. DownloadURL and ZipURL are
// pre-authenticated; NEVER log them.
type RemoteItem struct {
	ID          string
	Name        string // NFC-normalized
	Kind        ItemKind
	Size        int64 // files only
	ParentID    string
	DownloadURL string // files
	ZipURL      string // folders
	UpdatedAt   time.Time
}

// IsFolder reports whether the item is a folder.
func (i *RemoteItem) IsFolder() bool {
	return i.Kind == KindFolder
}

// Link returns the direct URL for files and the zip URL for folders.
func (i *RemoteItem) Link() string {
	if i.IsFolder() {
		return i.ZipURL
	}

	return i.DownloadURL
}

// Listing is the content of one folder, fetched fresh on every call.
type Listing struct {
	FolderID  string
	Name      string
	SpaceUsed int64
	SpaceMax  int64
	Folders   []RemoteItem
	Files     []RemoteItem
}

// Items returns folders followed by files.
func (l *Listing) Items() []RemoteItem {
	out := make([]RemoteItem, 0, len(l.Folders)+len(l.Files))
	out = append(out, l.Folders...)
	out = append(out, l.Files...)

	return out
}

// Find returns the item with the given id. Folders are checked first: ids
// are stable within an account, so a hit in either collection is unique.
func (l *Listing) Find(id string) (*RemoteItem, bool) {
	for i := range l.Folders {
		if l.Folders[i].ID == id {
			return &l.Folders[i], true
		}
	}

	for i := range l.Files {
		if l.Files[i].ID == id {
			return &l.Files[i], true
		}
	}

	return nil, false
}

// AddResult is what the API reports after accepting a magnet.
type AddResult struct {
	Title         string
	TorrentHash   string
	UserTorrentID string
}
