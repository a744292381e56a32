package jellyfin

// JSON structures for the subset of the Jellyfin API this daemon consumes.
// Field names follow the server's PascalCase wire contract.

// SystemInfo is the authenticated /System/Info response
type SystemInfo struct {
	ID              string `json:"Id"`
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	OperatingSystem string `json:"OperatingSystem"`
}

// PublicSystemInfo is the unauthenticated /System/Info/Public response,
// used to validate candidate addresses before login
type PublicSystemInfo struct {
	ID             string `json:"Id"`
	ServerName     string `json:"ServerName"`
	Version        string `json:"Version"`
	LocalAddress   string `json:"LocalAddress"`
	StartupWizard  bool   `json:"StartupWizardCompleted"`
	ProductName    string `json:"ProductName"`
	OperatingSyst  string `json:"OperatingSystem"`
	SupportsDirect bool   `json:"SupportsMediaControl"`
}

// User is the Jellyfin user record
type User struct {
	ID              string `json:"Id"`
	Name            string `json:"Name"`
	ServerID        string `json:"ServerId"`
	PrimaryImageTag string `json:"PrimaryImageTag"`
}

// AuthResult is returned by the authentication endpoints
type AuthResult struct {
	User        User   `json:"User"`
	AccessToken string `json:"AccessToken"`
	ServerID    string `json:"ServerId"`
}

// QuickConnectResult tracks a quick-connect pairing attempt
type QuickConnectResult struct {
	Secret        string `json:"Secret"`
	Code          string `json:"Code"`
	Authenticated bool   `json:"Authenticated"`
}

// UserData carries per-user playback state for an item
type UserData struct {
	PlaybackPositionTicks int64    `json:"PlaybackPositionTicks"`
	PlayCount             int      `json:"PlayCount"`
	IsFavorite            bool     `json:"IsFavorite"`
	Likes                 *bool    `json:"Likes"`
	Played                bool     `json:"Played"`
	Rating                *float64 `json:"Rating"`
	LastPlayedDate        string   `json:"LastPlayedDate"`
}

// Item is a library item (movie, episode, audio, ...)
type Item struct {
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Type         string        `json:"Type"`
	SeriesID     string        `json:"SeriesId"`
	SeriesName   string        `json:"SeriesName"`
	RunTimeTicks int64         `json:"RunTimeTicks"`
	UserData     *UserData     `json:"UserData"`
	MediaSources []MediaSource `json:"MediaSources"`
	ImageTags    ImageTags     `json:"ImageTags"`
}

// ImageTags maps image type to cache tag
type ImageTags struct {
	Primary  string `json:"Primary"`
	Backdrop string `json:"Backdrop"`
}

// MediaSource is one playable variant of an item
type MediaSource struct {
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Path         string        `json:"Path"`
	Protocol     string        `json:"Protocol"`
	Container    string        `json:"Container"`
	Size         int64         `json:"Size"`
	Bitrate      int           `json:"Bitrate"`
	MediaStreams []MediaStream `json:"MediaStreams"`
}

// MediaStream is one stream (video/audio/subtitle) within a source
type MediaStream struct {
	Index            int    `json:"Index"`
	Type             string `json:"Type"`
	Codec            string `json:"Codec"`
	Height           int    `json:"Height"`
	Language         string `json:"Language"`
	DisplayTitle     string `json:"DisplayTitle"`
	IsExternal       bool   `json:"IsExternal"`
	IsTextSubtitle   bool   `json:"IsTextSubtitleStream"`
	DeliveryURL      string `json:"DeliveryUrl"`
	SupportsExternal bool   `json:"SupportsExternalStream"`
}

// PlaybackInfo is the /Items/{id}/PlaybackInfo response
type PlaybackInfo struct {
	MediaSources  []MediaSource `json:"MediaSources"`
	PlaySessionID string        `json:"PlaySessionId"`
	ErrorCode     string        `json:"ErrorCode"`
}

// MediaSegment marks a skippable span (intro, credits) within an item
type MediaSegment struct {
	ID            string `json:"Id"`
	ItemID        string `json:"ItemId"`
	Type          string `json:"Type"`
	StartTicks    int64  `json:"StartTicks"`
	EndTicks      int64  `json:"EndTicks"`
}

type mediaSegmentsResponse struct {
	Items []MediaSegment `json:"Items"`
}

type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// TrickplayInfo describes a trickplay tile set for one resolution
type TrickplayInfo struct {
	Width           int `json:"Width"`
	Height          int `json:"Height"`
	TileWidth       int `json:"TileWidth"`
	TileHeight      int `json:"TileHeight"`
	ThumbnailCount  int `json:"ThumbnailCount"`
	Interval        int `json:"Interval"`
}

// DiscoveredServer is a LAN discovery reply
type DiscoveredServer struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Address string `json:"Address"`
}

// playbackReport is the body for playback start/progress/stopped reports
type playbackReport struct {
	ItemID        string `json:"ItemId"`
	MediaSourceID string `json:"MediaSourceId,omitempty"`
	PositionTicks int64  `json:"PositionTicks"`
	IsPaused      bool   `json:"IsPaused,omitempty"`
	PlaySessionID string `json:"PlaySessionId,omitempty"`
}
