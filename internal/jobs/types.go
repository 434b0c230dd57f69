package jobs

import "time"

// Status はジョブの実行状態を表します。
// 遷移は pending→processing→{completed|failed} の一方向のみです。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition は from から to への遷移が一方向の規則
// pending→processing→{completed|failed} に沿っているかを返します。
func CanTransition(from, to Status) bool {
	switch to {
	case StatusProcessing:
		return from == StatusPending
	case StatusCompleted, StatusFailed:
		return from == StatusProcessing
	}
	return false
}

// ValidStatus は状態文字列の妥当性を検証します。
func ValidStatus(status string) bool {
	switch Status(status) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TargetKind は調査対象の種別です。
type TargetKind string

const (
	KindCompany TargetKind = "company"
	KindPerson  TargetKind = "person"
)

// Depth は調査の深さを表すティアです。深いほど多くのステージが走り、
// 消費クレジットも増えます。
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ValidTargetKind は種別文字列の妥当性を検証します。
func ValidTargetKind(kind string) bool {
	return kind == string(KindCompany) || kind == string(KindPerson)
}

// ValidDepth は深さ文字列の妥当性を検証します。
func ValidDepth(depth string) bool {
	return depth == string(DepthQuick) || depth == string(DepthStandard) || depth == string(DepthDeep)
}

// Record はリサーチジョブの現在状態を表します。
type Record struct {
	JobID          string     `json:"jobId"`
	UserID         string     `json:"userId"`
	Target         string     `json:"target"`
	TargetKind     TargetKind `json:"targetKind"`
	Depth          Depth      `json:"depth"`
	Status         Status     `json:"status"`
	CreditsCharged int        `json:"creditsCharged"`
	OutputDir      string     `json:"outputDir,omitempty"`
	ReportPath     string     `json:"reportPath,omitempty"`
	ReportURL      string     `json:"reportUrl,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
}
