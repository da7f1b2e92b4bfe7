// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/embedding"
	"github.com/biogate/biogate-go/internal/errors"
)

// Interface abstracts the underlying database implementation and defines
// the operations the rest of the application uses.
type Interface interface {
	Open() error
	Close() error

	// users
	UserExists(username string) (bool, error)
	AllUsernames() ([]string, error)
	DeleteUserData(username string) error

	// embeddings
	SaveEmbedding(username, modality, origID string, isAugmented bool, vec []float32) error
	Embeddings(username, modality string) ([][]float32, error)
	EmbeddingRows(modality string) ([]EmbeddingRow, error)
	CountAugmented(username, modality string) (int64, error)

	// audit log
	LogAccess(username, method string, granted bool) error
	AccessLogs(username string, limit int) ([]AccessLog, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB   *gorm.DB
	dims map[string]int // expected vector dimension per modality

	// genuineCache fronts Embeddings reads during authentication so a
	// retry does not re-read the store. Invalidated on writes.
	genuineCache *gocache.Cache
}

const genuineCacheTTL = time.Minute

// New creates a datastore for the configured backend.
func New(settings *conf.Settings) Interface {
	return &SQLiteStore{
		DataStore: DataStore{
			dims: map[string]int{
				ModalityFace:  settings.Face.Dimension,
				ModalityVoice: settings.Voice.Dimension,
			},
			genuineCache: gocache.New(genuineCacheTTL, 2*genuineCacheTTL),
		},
		Path: settings.DatabasePath(),
	}
}

// UserExists reports whether a user row exists for the username.
func (ds *DataStore) UserExists(username string) (bool, error) {
	var count int64
	if err := ds.DB.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, dbError(err, "checking user existence", username)
	}
	return count > 0, nil
}

// AllUsernames returns every enrolled username.
func (ds *DataStore) AllUsernames() ([]string, error) {
	var names []string
	if err := ds.DB.Model(&User{}).Order("username").Pluck("username", &names).Error; err != nil {
		return nil, dbError(err, "listing usernames", "")
	}
	return names, nil
}

// ensureUser returns the user id for username, creating the row if it
// does not exist yet.
func (ds *DataStore) ensureUser(tx *gorm.DB, username string) (uint, error) {
	var user User
	err := tx.Where("username = ?", username).First(&user).Error
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	user = User{Username: username}
	if err := tx.Create(&user).Error; err != nil {
		return 0, err
	}
	return user.ID, nil
}

// SaveEmbedding persists one vector for the user, creating the user row
// on first write.
func (ds *DataStore) SaveEmbedding(username, modality, origID string, isAugmented bool, vec []float32) error {
	if dim := ds.dims[modality]; dim != 0 && len(vec) != dim {
		return errors.Newf("embedding dimension %d does not match %s dimension %d", len(vec), modality, dim).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("username", username).
			Build()
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		uid, err := ds.ensureUser(tx, username)
		if err != nil {
			return err
		}
		return tx.Create(&Embedding{
			UserID:      uid,
			Modality:    modality,
			OrigID:      origID,
			IsAugmented: isAugmented,
			Blob:        embedding.Encode(vec),
		}).Error
	})
	if err != nil {
		return dbError(err, "saving embedding", username)
	}

	ds.genuineCache.Delete(cacheKey(username, modality))
	return nil
}

// Embeddings returns the decoded vectors stored for one user and
// modality. Corrupt blobs are skipped, never an error.
func (ds *DataStore) Embeddings(username, modality string) ([][]float32, error) {
	key := cacheKey(username, modality)
	if cached, found := ds.genuineCache.Get(key); found {
		return cached.([][]float32), nil
	}

	var blobs [][]byte
	err := ds.DB.Model(&Embedding{}).
		Joins("JOIN users ON users.id = embeddings.user_id").
		Where("users.username = ? AND embeddings.modality = ?", username, modality).
		Order("embeddings.id").
		Pluck("embeddings.blob", &blobs).Error
	if err != nil {
		return nil, dbError(err, "loading embeddings", username)
	}

	dim := ds.dims[modality]
	out := make([][]float32, 0, len(blobs))
	for _, blob := range blobs {
		if vec, ok := embedding.Decode(blob, dim); ok {
			out = append(out, vec)
		}
	}

	ds.genuineCache.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// EmbeddingRows returns every decoded embedding of one modality across
// the whole population, joined with its owner. Corrupt blobs are skipped.
func (ds *DataStore) EmbeddingRows(modality string) ([]EmbeddingRow, error) {
	var raw []struct {
		Username    string
		OrigID      string
		IsAugmented bool
		Blob        []byte
	}
	err := ds.DB.Model(&Embedding{}).
		Select("users.username, embeddings.orig_id, embeddings.is_augmented, embeddings.blob").
		Joins("JOIN users ON users.id = embeddings.user_id").
		Where("embeddings.modality = ?", modality).
		Order("embeddings.id").
		Scan(&raw).Error
	if err != nil {
		return nil, dbError(err, "loading embedding rows", "")
	}

	dim := ds.dims[modality]
	rows := make([]EmbeddingRow, 0, len(raw))
	for _, r := range raw {
		vec, ok := embedding.Decode(r.Blob, dim)
		if !ok {
			continue
		}
		rows = append(rows, EmbeddingRow{
			Username:    r.Username,
			OrigID:      r.OrigID,
			IsAugmented: r.IsAugmented,
			Vector:      vec,
		})
	}
	return rows, nil
}

// CountAugmented returns the number of stored synthetic embeddings for
// the user and modality, used to enforce the per-user cap.
func (ds *DataStore) CountAugmented(username, modality string) (int64, error) {
	var count int64
	err := ds.DB.Model(&Embedding{}).
		Joins("JOIN users ON users.id = embeddings.user_id").
		Where("users.username = ? AND embeddings.modality = ? AND embeddings.is_augmented = ?", username, modality, true).
		Count(&count).Error
	if err != nil {
		return 0, dbError(err, "counting augmented embeddings", username)
	}
	return count, nil
}

// DeleteUserData removes the user row and every embedding belonging to
// it. Deleting an unknown user is a no-op.
func (ds *DataStore) DeleteUserData(username string) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var user User
		err := tx.Where("username = ?", username).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&Embedding{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return dbError(err, "deleting user data", username)
	}

	ds.genuineCache.Delete(cacheKey(username, ModalityFace))
	ds.genuineCache.Delete(cacheKey(username, ModalityVoice))
	return nil
}

// LogAccess appends one authentication decision to the audit log.
func (ds *DataStore) LogAccess(username, method string, granted bool) error {
	status := StatusDenied
	if granted {
		status = StatusGranted
	}
	entry := AccessLog{
		Username:  username,
		Method:    method,
		Status:    status,
		Timestamp: time.Now(),
	}
	if err := ds.DB.Create(&entry).Error; err != nil {
		return dbError(err, "writing access log", username)
	}
	return nil
}

// AccessLogs returns the most recent audit records for a username, newest
// first. A limit of 0 returns all records.
func (ds *DataStore) AccessLogs(username string, limit int) ([]AccessLog, error) {
	q := ds.DB.Where("username = ?", username).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var logs []AccessLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, dbError(err, "reading access logs", username)
	}
	return logs, nil
}

func cacheKey(username, modality string) string {
	return username + "/" + modality
}

func dbError(err error, op, username string) error {
	eb := errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("datastore").
		Category(errors.CategoryDatabase)
	if username != "" {
		eb = eb.Context("username", username)
	}
	return eb.Build()
}
