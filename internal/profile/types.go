// Package profile holds the typed sections of a job seeker's career profile.
package profile

import (
	"strconv"
	"strings"
)

type Education struct {
	Institution  string `json:"institution" binding:"required,max=200"`
	Degree       string `json:"degree" binding:"max=200"`
	FieldOfStudy string `json:"fieldOfStudy" binding:"max=200"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	Current      bool   `json:"current"`
	Description  string `json:"description,omitempty" binding:"max=4000"`
}

type Experience struct {
	Company     string `json:"company" binding:"required,max=200"`
	Title       string `json:"title" binding:"required,max=200"`
	Location    string `json:"location,omitempty" binding:"max=200"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	Current     bool   `json:"current"`
	Description string `json:"description,omitempty" binding:"max=4000"`
}

type Skill struct {
	Name  string `json:"name" binding:"required,max=100"`
	Level string `json:"level,omitempty" binding:"omitempty,oneof=beginner intermediate advanced expert"`
}

type Certification struct {
	Name          string `json:"name" binding:"required,max=200"`
	Issuer        string `json:"issuer,omitempty" binding:"max=200"`
	IssueDate     string `json:"issueDate,omitempty"`
	ExpiryDate    string `json:"expiryDate,omitempty"`
	CredentialURL string `json:"credentialUrl,omitempty" binding:"omitempty,url"`
}

type Language struct {
	Name        string `json:"name" binding:"required,max=100"`
	Proficiency string `json:"proficiency,omitempty" binding:"omitempty,oneof=basic conversational fluent native"`
}

type Project struct {
	Name         string   `json:"name" binding:"required,max=200"`
	Description  string   `json:"description,omitempty" binding:"max=4000"`
	URL          string   `json:"url,omitempty" binding:"omitempty,url"`
	Technologies []string `json:"technologies,omitempty"`
}

// Document references an uploaded file in object storage.
type Document struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	UploadedAt  string `json:"uploadedAt"`
}

// DocumentPrefix is the object key prefix owned by userID.
func DocumentPrefix(userID uint) string {
	return "profile-docs/" + strconv.FormatUint(uint64(userID), 10) + "/"
}

// OwnsDocument reports whether key lives under userID's prefix and has no path tricks.
func OwnsDocument(userID uint, key string) bool {
	prefix := DocumentPrefix(userID)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := strings.TrimPrefix(key, prefix)
	return rest != "" && !strings.Contains(rest, "/") && !strings.Contains(rest, "..")
}
