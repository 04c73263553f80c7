package model

import (
	"slices"
	"time"
)

// Profile is the attribute record produced by vision analysis.
// Every field is a plain string so prompt interpolation never has to
// deal with missing values.
type Profile struct {
	DetailedPrompt  string `json:"detailed_prompt"`
	AgeRange        string `json:"age_range"`
	BodyType        string `json:"body_type"`
	FacialFeatures  string `json:"facial_features"`
	StyleLevel      string `json:"sexy_level"`
	Pose            string `json:"pose"`
	Clothing        string `json:"clothing"`
	Hair            string `json:"hair"`
	HairColor       string `json:"hair_color"`
	Background      string `json:"background"`
	Ethnicity       string `json:"ethnicity"`
	SkinTone        string `json:"skin_tone"`
	EyeColor        string `json:"eye_color"`
	MakeupStyle     string `json:"makeup_style"`
	BodyProportions string `json:"body_proportions"`
}

type JobStatus string

const (
	StatusAnalyzing        JobStatus = "analyzing"
	StatusGeneratingImage  JobStatus = "generating-image"
	StatusImageReady       JobStatus = "image-ready"
	StatusGeneratingVideos JobStatus = "generating-videos"
	StatusCompleted        JobStatus = "completed"
	StatusFailed           JobStatus = "failed"
)

type VideoStatus string

const (
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

type SlotStatus string

const (
	SlotLoading SlotStatus = "loading"
	SlotSuccess SlotStatus = "success"
	SlotFailed  SlotStatus = "failed"
)

// ImageSlot tracks one request of the image fan-out.
type ImageSlot struct {
	Index  int        `json:"index"`
	Prompt string     `json:"prompt"`
	Status SlotStatus `json:"status"`
	URL    string     `json:"url,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type GeneratedVideo struct {
	ID             string      `json:"id"`
	VideoURL       string      `json:"videoUrl"`
	SourceImageURL string      `json:"sourceImageUrl,omitempty"`
	Prompt         string      `json:"prompt"`
	Caption        string      `json:"caption"`
	CreatedAt      time.Time   `json:"createdAt"`
	Status         VideoStatus `json:"status"`
}

// GenerationJob is the unit of orchestration state.
type GenerationJob struct {
	ID                   string           `json:"id"`
	OriginalImage        string           `json:"originalImage"`
	ImageAnalysis        *Profile         `json:"imageAnalysis,omitempty"`
	ImagePrompt          string           `json:"imagePrompt,omitempty"`
	VideoPrompt          string           `json:"videoPrompt,omitempty"`
	ImageSlots           []ImageSlot      `json:"imageSlots,omitempty"`
	RegeneratedImageURLs []string         `json:"regeneratedImageUrls"`
	SelectedImageURLs    []string         `json:"selectedImageUrls"`
	Videos               []GeneratedVideo `json:"videos"`
	VideoCount           int              `json:"videoCount"`
	Status               JobStatus        `json:"status"`
	Error                string           `json:"error,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	CompletedAt          *time.Time       `json:"completedAt,omitempty"`
}

// IsDone reports whether the job reached a terminal state.
func (j *GenerationJob) IsDone() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// HasImage reports whether url is one of the regenerated images.
func (j *GenerationJob) HasImage(url string) bool {
	for _, u := range j.RegeneratedImageURLs {
		if u == url {
			return true
		}
	}
	return false
}

// IsSelected reports whether url is currently selected for video generation.
func (j *GenerationJob) IsSelected(url string) bool {
	for _, u := range j.SelectedImageURLs {
		if u == url {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots handed to observers and
// persisted into history never alias the live job.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	out := *j
	if j.ImageAnalysis != nil {
		p := *j.ImageAnalysis
		out.ImageAnalysis = &p
	}
	out.ImageSlots = slices.Clone(j.ImageSlots)
	out.RegeneratedImageURLs = slices.Clone(j.RegeneratedImageURLs)
	out.SelectedImageURLs = slices.Clone(j.SelectedImageURLs)
	out.Videos = slices.Clone(j.Videos)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// APIKeys holds provider credentials plus optional integration settings.
type APIKeys struct {
	Kie                 string `json:"kie"`
	Analysis            string `json:"analysis,omitempty"`
	N8NWebhook          string `json:"n8nWebhook,omitempty"`
	GoogleDriveFolderID string `json:"googleDriveFolderId,omitempty"`
	FacebookPageID      string `json:"facebookPageId,omitempty"`
	FacebookAccessToken string `json:"facebookAccessToken,omitempty"`
}

// Masked hides the secret fields except their last four characters.
func (k APIKeys) Masked() APIKeys {
	k.Kie = MaskSecret(k.Kie)
	k.Analysis = MaskSecret(k.Analysis)
	k.FacebookAccessToken = MaskSecret(k.FacebookAccessToken)
	return k
}

func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
