package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pipeline/internal/api/middleware"
	"pipeline/internal/database"
	"pipeline/internal/errcode"
	"pipeline/internal/profile"
	"pipeline/internal/storage"
)

const (
	maxDocumentBytes    = 10 << 20
	maxDocumentsPerUser = 20
	documentLinkTTL     = 15 * time.Minute
)

var documentExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".txt": true, ".rtf": true, ".odt": true,
	".png": true, ".jpg": true, ".jpeg": true,
}

// ProfileHandler 负责职业档案与附件文档。storage 为空时文档接口返回 503。
type ProfileHandler struct {
	db      *gorm.DB
	storage storage.ObjectStore
	scanner DocumentScanner
	logger  *slog.Logger
	now     func() time.Time
}

func NewProfileHandler(db *gorm.DB, store storage.ObjectStore, scanner DocumentScanner, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{db: db, storage: store, scanner: scanner, logger: logger, now: time.Now}
}

// target resolves :userId and checks the caller may act on it.
func (h *ProfileHandler) target(c *gin.Context, allowAdmin bool) (uint, bool) {
	ownerID, ok := parseIDParam(c, "userId")
	if !ok {
		return 0, false
	}
	actor, ok := loadActor(c, h.db)
	if !ok {
		return 0, false
	}
	if actor.ID != ownerID && !(allowAdmin && actor.IsAdmin) {
		Forbidden(c, "not your profile")
		return 0, false
	}
	return ownerID, true
}

// profileColumns 是 Save 可以覆盖的列，documents 只由上传和删除接口在行锁内修改。
var profileColumns = []string{
	"full_name", "headline", "summary", "phone", "location",
	"education", "experience", "skills", "certifications", "languages", "projects",
	"updated_at",
}

// lockProfile loads the profile row with SELECT ... FOR UPDATE inside tx.
// create inserts an empty row first so a first upload has something to lock.
func lockProfile(ctx context.Context, tx *gorm.DB, userID uint, create bool) (*database.Profile, error) {
	if create {
		empty := database.Profile{UserID: userID}
		err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(&empty).Error
		if err != nil {
			return nil, errcode.Internal("profiles.lock", err)
		}
	}
	var prof database.Profile
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&prof).Error
	if err != nil {
		return nil, errcode.FromDB("profiles.lock", "profile", err)
	}
	return &prof, nil
}

func loadProfile(ctx context.Context, db *gorm.DB, userID uint) (database.Profile, error) {
	var prof database.Profile
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&prof).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.Profile{UserID: userID}, nil
	}
	if err != nil {
		return prof, errcode.Internal("profiles.load", err)
	}
	return prof, nil
}

// Get GET /api/profiles/:userId，不存在时返回空档案。
func (h *ProfileHandler) Get(c *gin.Context) {
	userID, ok := h.target(c, true)
	if !ok {
		return
	}
	prof, err := loadProfile(c.Request.Context(), h.db, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withEmptySections(prof))
}

type saveProfileRequest struct {
	FullName       string                  `json:"fullName" binding:"max=255"`
	Headline       string                  `json:"headline" binding:"max=255"`
	Summary        string                  `json:"summary" binding:"max=8000"`
	Phone          string                  `json:"phone" binding:"max=64"`
	Location       string                  `json:"location" binding:"max=255"`
	Education      []profile.Education     `json:"education" binding:"max=50,dive"`
	Experience     []profile.Experience    `json:"experience" binding:"max=50,dive"`
	Skills         []profile.Skill         `json:"skills" binding:"max=200,dive"`
	Certifications []profile.Certification `json:"certifications" binding:"max=50,dive"`
	Languages      []profile.Language      `json:"languages" binding:"max=50,dive"`
	Projects       []profile.Project       `json:"projects" binding:"max=50,dive"`
}

// Save POST /api/profiles/:userId，首次保存时创建档案。documents 只能通过上传接口修改。
func (h *ProfileHandler) Save(c *gin.Context) {
	userID, ok := h.target(c, false)
	if !ok {
		return
	}
	var req saveProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	now := h.now()
	prof := database.Profile{
		UserID:         userID,
		FullName:       strings.TrimSpace(req.FullName),
		Headline:       strings.TrimSpace(req.Headline),
		Summary:        strings.TrimSpace(req.Summary),
		Phone:          strings.TrimSpace(req.Phone),
		Location:       strings.TrimSpace(req.Location),
		Education:      datatypes.NewJSONSlice(req.Education),
		Experience:     datatypes.NewJSONSlice(req.Experience),
		Skills:         datatypes.NewJSONSlice(req.Skills),
		Certifications: datatypes.NewJSONSlice(req.Certifications),
		Languages:      datatypes.NewJSONSlice(req.Languages),
		Projects:       datatypes.NewJSONSlice(req.Projects),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := h.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(profileColumns),
		}).
		Create(&prof).Error
	if err != nil {
		respondError(c, errcode.FromDB("profiles.Save", "profile", err))
		return
	}

	saved, err := loadProfile(ctx, h.db, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withEmptySections(saved))
}

// UploadDocument POST /api/profiles/:userId/documents，上传前先做病毒扫描。
func (h *ProfileHandler) UploadDocument(c *gin.Context) {
	if h.storage == nil {
		Error(c, http.StatusServiceUnavailable, errcode.CodeInternal, "document storage is not configured")
		return
	}
	userID, ok := h.target(c, false)
	if !ok {
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size <= 0 || file.Size > maxDocumentBytes {
		BadRequest(c, "file must be between 1 byte and 10 MB")
		return
	}
	name := path.Base(strings.ReplaceAll(file.Filename, `\`, "/"))
	if !documentExtensions[strings.ToLower(path.Ext(name))] {
		BadRequest(c, "unsupported file type")
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	current, err := loadProfile(ctx, h.db, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(current.Documents) >= maxDocumentsPerUser {
		Forbidden(c, "document limit reached")
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, errcode.Internal("profiles.UploadDocument", err))
		return
	}
	defer src.Close()
	content, err := io.ReadAll(io.LimitReader(src, maxDocumentBytes+1))
	if err != nil {
		respondError(c, errcode.Internal("profiles.UploadDocument", err))
		return
	}

	if h.scanner != nil {
		if err := h.scanner.Scan(ctx, bytes.NewReader(content)); err != nil {
			if errors.Is(err, errInfected) {
				logger.Warn("infected upload rejected", slog.String("filename", name))
				BadRequest(c, errInfected.Error())
				return
			}
			respondError(c, errcode.Internal("profiles.UploadDocument", err))
			return
		}
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}
	key := storage.DocumentKey(userID, name)
	if err := h.storage.UploadFile(ctx, key, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
		respondError(c, errcode.Internal("profiles.UploadDocument", err))
		return
	}

	doc := profile.Document{
		Key:         key,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(content)),
		UploadedAt:  h.now().UTC().Format(time.RFC3339),
	}
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prof, err := lockProfile(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		// 上传期间可能有并发请求写入，锁内重新检查数量。
		if len(prof.Documents) >= maxDocumentsPerUser {
			return errcode.Forbidden("profiles.UploadDocument", "document limit reached")
		}
		docs := append(prof.Documents, doc)
		if err := tx.Model(prof).Update("documents", docs).Error; err != nil {
			return errcode.Internal("profiles.UploadDocument", err)
		}
		return nil
	})
	if err != nil {
		if delErr := h.storage.DeleteObject(context.WithoutCancel(ctx), key); delErr != nil {
			logger.Error("cleanup orphaned document failed", slog.String("object_key", key), slog.Any("error", delErr))
		}
		respondError(c, err)
		return
	}

	logger.Info("document uploaded", slog.String("object_key", key), slog.Int64("size", doc.Size))
	c.JSON(http.StatusCreated, doc)
}

// documentIndex validates ?key= against the owner's prefix and the stored list.
func documentIndex(c *gin.Context, prof database.Profile) (int, bool) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		BadRequest(c, "missing key")
		return 0, false
	}
	if !profile.OwnsDocument(prof.UserID, key) {
		Forbidden(c, "access denied")
		return 0, false
	}
	for i, d := range prof.Documents {
		if d.Key == key {
			return i, true
		}
	}
	respondError(c, errcode.NotFound("profiles.document", "document not found"))
	return 0, false
}

// DocumentLink GET /api/profiles/:userId/documents/link?key=
func (h *ProfileHandler) DocumentLink(c *gin.Context) {
	if h.storage == nil {
		Error(c, http.StatusServiceUnavailable, errcode.CodeInternal, "document storage is not configured")
		return
	}
	userID, ok := h.target(c, true)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	prof, err := loadProfile(ctx, h.db, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	idx, ok := documentIndex(c, prof)
	if !ok {
		return
	}
	url, err := h.storage.GeneratePresignedURL(ctx, prof.Documents[idx].Key, documentLinkTTL)
	if err != nil {
		respondError(c, errcode.Internal("profiles.DocumentLink", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expiresIn": int(documentLinkTTL.Seconds())})
}

// DeleteDocument DELETE /api/profiles/:userId/documents?key=
func (h *ProfileHandler) DeleteDocument(c *gin.Context) {
	if h.storage == nil {
		Error(c, http.StatusServiceUnavailable, errcode.CodeInternal, "document storage is not configured")
		return
	}
	userID, ok := h.target(c, false)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		BadRequest(c, "missing key")
		return
	}
	if !profile.OwnsDocument(userID, key) {
		Forbidden(c, "access denied")
		return
	}
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prof, err := lockProfile(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(prof.Documents, func(d profile.Document) bool { return d.Key == key })
		if idx < 0 {
			return errcode.NotFound("profiles.DeleteDocument", "document not found")
		}
		docs := slices.Delete(slices.Clone(prof.Documents), idx, idx+1)
		if err := tx.Model(prof).Update("documents", docs).Error; err != nil {
			return errcode.Internal("profiles.DeleteDocument", err)
		}
		return nil
	})
	if err != nil {
		if errcode.CodeOf(err) == errcode.CodeNotFound {
			respondError(c, errcode.NotFound("profiles.DeleteDocument", "document not found"))
			return
		}
		respondError(c, err)
		return
	}
	// 行已更新，对象删除失败只记录日志。
	if err := h.storage.DeleteObject(ctx, key); err != nil {
		middleware.LoggerFromContext(c).Error("delete document object failed", slog.String("object_key", key), slog.Any("error", err))
	}
	c.Status(http.StatusNoContent)
}

// withEmptySections keeps nil sections out of the JSON so clients always see arrays.
func withEmptySections(p database.Profile) database.Profile {
	if p.Education == nil {
		p.Education = datatypes.JSONSlice[profile.Education]{}
	}
	if p.Experience == nil {
		p.Experience = datatypes.JSONSlice[profile.Experience]{}
	}
	if p.Skills == nil {
		p.Skills = datatypes.JSONSlice[profile.Skill]{}
	}
	if p.Certifications == nil {
		p.Certifications = datatypes.JSONSlice[profile.Certification]{}
	}
	if p.Languages == nil {
		p.Languages = datatypes.JSONSlice[profile.Language]{}
	}
	if p.Projects == nil {
		p.Projects = datatypes.JSONSlice[profile.Project]{}
	}
	if p.Documents == nil {
		p.Documents = datatypes.JSONSlice[profile.Document]{}
	}
	return p
}
