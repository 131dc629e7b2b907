package types

import (
	"strconv"
	"time"
)

// Message represents one email card on the board
type Message struct {
	ID            string    `json:"id"`
	UID           uint32    `json:"uid"`
	SeqNum        uint32    `json:"-"`
	Subject       string    `json:"subject"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Date          time.Time `json:"date"`
	DateEstimated bool      `json:"dateEstimated,omitempty"`
	Text          string    `json:"text"`
	HTML          string    `json:"html"`
	Preview       string    `json:"preview"`
	Column        string    `json:"column"`
	Folder        string    `json:"folder"`
	FetchedAt     time.Time `json:"fetchedAt"`
	LastModified  time.Time `json:"lastModified,omitempty"`
}

// MatchKey returns the subject+sender+timestamp tuple used to correlate
// a fetched message with a persisted one.
func (m *Message) MatchKey() string {
	return m.Subject + "\x00" + m.From + "\x00" + strconv.FormatInt(m.Date.UnixMilli(), 10)
}

// FetchResult is the response of a live fetch across all columns
type FetchResult struct {
	Messages  []Message `json:"emails"`
	Count     int       `json:"totalCount"`
	FetchedAt time.Time `json:"fetchedAt"`
	Duration  int64     `json:"duration"`
	Partial   bool      `json:"partial"`
	Stale     []string  `json:"staleFolders,omitempty"`
	Failed    []string  `json:"failedFolders,omitempty"`
}

// FolderResult is the response of a live fetch for one column
type FolderResult struct {
	Messages  []Message `json:"emails"`
	Column    string    `json:"folder"`
	Folder    string    `json:"imapFolder"`
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetchedAt"`
	Stale     bool      `json:"stale"`
	FromCache bool      `json:"fromCache"`
}

// SyncResult is the response of a board synchronisation
type SyncResult struct {
	FetchResult
	Board     []Message `json:"board"`
	Inserted  int       `json:"inserted"`
	Updated   int       `json:"updated"`
	Preserved int       `json:"preserved"`
}

// MoveResult reports the outcome of a column move
type MoveResult struct {
	Success    bool      `json:"success"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	UID        uint32    `json:"uid"`
	NewUID     *uint32   `json:"newUid"`
	FromColumn string    `json:"fromColumn"`
	ToColumn   string    `json:"toColumn"`
	FromFolder string    `json:"fromFolder"`
	ToFolder   string    `json:"toFolder"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeleteResult reports the outcome of a delete
type DeleteResult struct {
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	UID       uint32    `json:"uid"`
	Column    string    `json:"folder"`
	Folder    string    `json:"imapFolder"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheEntryStatus describes a single cache entry
type CacheEntryStatus struct {
	Key        string `json:"key"`
	Folder     string `json:"folder"`
	Column     string `json:"column"`
	EmailCount int    `json:"emailCount"`
	AgeMillis  int64  `json:"age"`
	Expired    bool   `json:"expired"`
}

// CacheStatus is a diagnostic snapshot of the cache layer
type CacheStatus struct {
	TotalEntries int                `json:"totalCacheEntries"`
	TTLMillis    int64              `json:"cacheTimeout"`
	Entries      []CacheEntryStatus `json:"entries"`
	Connection   *ConnectionStatus  `json:"connection,omitempty"`
}

// ConnectionStatus describes the configured IMAP endpoint
type ConnectionStatus struct {
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	User        string  `json:"user"`
	TLS         bool    `json:"tls"`
	SessionRate float64 `json:"sessionRate"`
}

// ProbeResult is the result of a reachability probe
type ProbeResult struct {
	Reachable bool   `json:"success"`
	Duration  int64  `json:"duration"`
	Error     string `json:"error,omitempty"`
}

// FolderSetup reports which board folders exist after ensure-folders
type FolderSetup struct {
	Created  []string          `json:"created"`
	Existing []string          `json:"existing"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// BoardStats holds per-column counts of the persisted board
type BoardStats struct {
	Total    int            `json:"total"`
	ByColumn map[string]int `json:"byColumn"`
}
