package syncer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// writeError converts a failed write into a conflict when a unique constraint
// rejected it, and into the transient store error otherwise.
func writeError(action string, err error) error {
	if schema.IsDuplicateKey(err) {
		return fmt.Errorf("%w: %v: %v", schema.ErrConflict, action, err)
	}
	return schema.StoreError(action, err)
}

func found(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, schema.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func sameMetadata(a datatypes.JSONMap, b map[string]interface{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, err := json.Marshal(map[string]interface{}(a))
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

type videoHandler struct{}

func (videoHandler) collection() records.Collection { return records.Videos }

func (videoHandler) entity() schema.EntityType { return schema.VideoEntity }

func (videoHandler) active(rec records.VideoRecord) bool { return rec.Active() }

func (videoHandler) refs(records.VideoRecord) []ref { return nil }

func (videoHandler) validate(rec records.VideoRecord) error {
	if rec.VideoUid == "" {
		return schema.Invalid("video_uid must not be empty")
	}
	if rec.Url == "" {
		return schema.Invalid("video '%v' has no url", rec.VideoUid)
	}
	return nil
}

func (videoHandler) state(txn *gorm.DB, rec records.VideoRecord) (bool, bool, error) {
	video, err := schema.GetVideo(txn, rec.VideoUid)
	exists, err := found(err)
	return exists, exists && video.IsActive, err
}

func (videoHandler) write(txn *gorm.DB, rec records.VideoRecord, now time.Time) (Outcome, error) {
	video, err := schema.GetVideo(txn, rec.VideoUid)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	metadata := datatypes.JSONMap{}
	for k, v := range rec.Metadata {
		metadata[k] = v
	}

	if !exists {
		video = schema.Video{
			Id:        uuid.New(),
			VideoUid:  rec.VideoUid,
			Url:       rec.Url,
			Metadata:  metadata,
			IsActive:  rec.Active(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := txn.Create(&video).Error; err != nil {
			return "", writeError("creating video", err)
		}
		return Created, nil
	}

	changed := false
	if video.Url != rec.Url {
		video.Url = rec.Url
		changed = true
	}
	if !sameMetadata(video.Metadata, rec.Metadata) {
		video.Metadata = metadata
		changed = true
	}
	reactivated := rec.Active() && !video.IsActive
	if reactivated {
		video.IsActive = true
		changed = true
	}
	if !changed {
		return Unchanged, nil
	}

	video.UpdatedAt = now
	if err := txn.Save(&video).Error; err != nil {
		return "", writeError("updating video", err)
	}

	if reactivated {
		if err := schema.RecheckProjectGroups(txn, schema.ProjectsWithVideoQuery(txn, video.Id)); err != nil {
			return "", err
		}
	}
	return Updated, nil
}
