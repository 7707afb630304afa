package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketUsers       = []byte("users")
	bucketStations    = []byte("stations")
	bucketBrands      = []byte("brands")
	bucketRequests    = []byte("requests")
	bucketAPILogs     = []byte("api_logs")
	bucketMessageLogs = []byte("message_logs")

	allBuckets = [][]byte{
		bucketUsers, bucketStations, bucketBrands,
		bucketRequests, bucketAPILogs, bucketMessageLogs,
	}
)

const dateLayout = "2006-01-02"

// BoltStore implements Store on a single bbolt file. bbolt serializes write
// transactions, so each lifecycle update is atomic.
type BoltStore struct {
	db *bolt.DB
}

// requestRecord is the on-disk shape of a subscription.
type requestRecord struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	ChatID            int64      `json:"chat_id"`
	StationFrom       string     `json:"station_from"`
	StationTo         string     `json:"station_to"`
	FromDate          string     `json:"from_date"`
	ToDate            string     `json:"to_date"`
	MinSeats          int        `json:"min_seats"`
	IsActive          bool       `json:"is_active"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	LastNotifiedAt    *time.Time `json:"last_notified_at,omitempty"`
	NotificationCount int        `json:"notification_count"`
	BrandIDs          []int64    `json:"brand_ids,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// OpenBolt opens (or creates) the bolt file and its buckets.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRequests) == nil {
			return fmt.Errorf("bucket %s missing", bucketRequests)
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Scheduler lifecycle
// --------------------------------------------------------------------------

func (s *BoltStore) ListActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(_, v []byte) error {
			var rec requestRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.IsActive {
				return nil
			}
			sub, err := toSubscription(tx, rec)
			if err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return subs, nil
}

func (s *BoltStore) UpdateLastChecked(ctx context.Context, id int64, ts time.Time) error {
	return s.updateRequest(id, func(rec *requestRecord) { rec.LastCheckedAt = &ts })
}

func (s *BoltStore) UpdateLastNotified(ctx context.Context, id int64, ts time.Time) error {
	return s.updateRequest(id, func(rec *requestRecord) { rec.LastNotifiedAt = &ts })
}

func (s *BoltStore) IncrementNotificationCount(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.updateRequest(id, func(rec *requestRecord) {
		rec.NotificationCount++
		n = rec.NotificationCount
	})
	return n, err
}

func (s *BoltStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.updateRequest(id, func(rec *requestRecord) { rec.IsActive = active })
}

func (s *BoltStore) ResetNotificationCount(ctx context.Context, id int64) error {
	return s.updateRequest(id, func(rec *requestRecord) { rec.NotificationCount = 0 })
}

func (s *BoltStore) BrandFilter(ctx context.Context, id int64) ([]string, error) {
	return s.brandField(id, func(b Brand) string { return b.Name })
}

func (s *BoltStore) BrandDisplayNames(ctx context.Context, id int64) ([]string, error) {
	return s.brandField(id, func(b Brand) string { return b.DisplayName })
}

func (s *BoltStore) brandField(id int64, field func(Brand) string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := getRequest(tx, id)
		if err != nil {
			return err
		}
		brands := tx.Bucket(bucketBrands)
		for _, brandID := range rec.BrandIDs {
			v := brands.Get(itob(brandID))
			if v == nil {
				continue
			}
			var b Brand
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, field(b))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// --------------------------------------------------------------------------
// Subscriptions and users
// --------------------------------------------------------------------------

func (s *BoltStore) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	var sub Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := getRequest(tx, id)
		if err != nil {
			return err
		}
		sub, err = toSubscription(tx, rec)
		return err
	})
	return sub, err
}

func (s *BoltStore) ListSubscriptionsByChat(ctx context.Context, chatID int64, activeOnly bool) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(_, v []byte) error {
			var rec requestRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.ChatID != chatID || (activeOnly && !rec.IsActive) {
				return nil
			}
			sub, err := toSubscription(tx, rec)
			if err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by chat: %w", err)
	}
	return subs, nil
}

func (s *BoltStore) CreateSubscription(ctx context.Context, sub NewSubscription) (int64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		user, err := userByID(tx, sub.UserID)
		if err != nil {
			return err
		}
		for _, code := range []string{sub.StationFrom, sub.StationTo} {
			if tx.Bucket(bucketStations).Get([]byte(code)) == nil {
				return fmt.Errorf("station %s: %w", code, ErrNotFound)
			}
		}

		bucket := tx.Bucket(bucketRequests)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		rec := requestRecord{
			ID:          id,
			UserID:      user.ID,
			ChatID:      user.ChatID,
			StationFrom: sub.StationFrom,
			StationTo:   sub.StationTo,
			FromDate:    sub.FromDate.Format(dateLayout),
			ToDate:      sub.ToDate.Format(dateLayout),
			MinSeats:    sub.MinSeats,
			IsActive:    true,
			BrandIDs:    sub.BrandIDs,
			CreatedAt:   sub.CreatedAt,
		}
		return putJSON(bucket, itob(id), rec)
	})
	if err != nil {
		return 0, fmt.Errorf("create subscription: %w", err)
	}
	return id, nil
}

func (s *BoltStore) GetUserByChatID(ctx context.Context, chatID int64) (User, error) {
	var u User
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUsers).Get(chatKey(chatID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &u)
	})
	return u, err
}

func (s *BoltStore) CreateUser(ctx context.Context, u User) (User, bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketUsers)
		if v := bucket.Get(chatKey(u.ChatID)); v != nil {
			return json.Unmarshal(v, &u)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		u.ID = int64(seq)
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now()
		}
		created = true
		return putJSON(bucket, chatKey(u.ChatID), u)
	})
	if err != nil {
		return User{}, false, fmt.Errorf("create user: %w", err)
	}
	return u, created, nil
}

// --------------------------------------------------------------------------
// Reference data
// --------------------------------------------------------------------------

func (s *BoltStore) ListStations(ctx context.Context) ([]Station, error) {
	var stations []Station
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStations).ForEach(func(_, v []byte) error {
			var st Station
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			stations = append(stations, st)
			return nil
		})
	})
	sort.Slice(stations, func(i, j int) bool { return stations[i].Name < stations[j].Name })
	return stations, err
}

func (s *BoltStore) GetStation(ctx context.Context, id string) (Station, error) {
	var st Station
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStations).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &st)
	})
	return st, err
}

func (s *BoltStore) UpsertStation(ctx context.Context, st Station) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketStations), []byte(st.ID), st)
	})
}

func (s *BoltStore) ListBrands(ctx context.Context) ([]Brand, error) {
	var brands []Brand
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBrands).ForEach(func(_, v []byte) error {
			var b Brand
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			brands = append(brands, b)
			return nil
		})
	})
	sort.Slice(brands, func(i, j int) bool { return brands[i].DisplayName < brands[j].DisplayName })
	return brands, err
}

// UpsertBrand matches on Name; the id of an existing brand is kept.
func (s *BoltStore) UpsertBrand(ctx context.Context, b Brand) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBrands)
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var existing Brand
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == b.Name {
				existing.DisplayName = b.DisplayName
				return putJSON(bucket, k, existing)
			}
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		b.ID = int64(seq)
		return putJSON(bucket, itob(b.ID), b)
	})
}

// --------------------------------------------------------------------------
// Logs
// --------------------------------------------------------------------------

func (s *BoltStore) InsertAPILog(ctx context.Context, e APILog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.appendLog(bucketAPILogs, e)
}

func (s *BoltStore) InsertMessageLog(ctx context.Context, e MessageLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.appendLog(bucketMessageLogs, e)
}

func (s *BoltStore) appendLog(name []byte, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(name)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return putJSON(bucket, itob(int64(seq)), v)
	})
}

// PurgeLogs deletes audit and message log entries created before the cutoff.
func (s *BoltStore) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAPILogs, bucketMessageLogs} {
			bucket := tx.Bucket(name)
			var expired [][]byte
			err := bucket.ForEach(func(k, v []byte) error {
				var entry struct {
					CreatedAt time.Time `json:"created_at"`
				}
				if err := json.Unmarshal(v, &entry); err != nil {
					return err
				}
				if entry.CreatedAt.Before(before) {
					expired = append(expired, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			// Deleting inside ForEach is not allowed, so keys are collected first.
			for _, k := range expired {
				if err := bucket.Delete(k); err != nil {
					return err
				}
				total++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge logs: %w", err)
	}
	return total, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// updateRequest applies fn to one subscription inside a write transaction.
func (s *BoltStore) updateRequest(id int64, fn func(*requestRecord)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRequest(tx, id)
		if err != nil {
			return err
		}
		fn(&rec)
		return putJSON(tx.Bucket(bucketRequests), itob(id), rec)
	})
}

func getRequest(tx *bolt.Tx, id int64) (requestRecord, error) {
	var rec requestRecord
	v := tx.Bucket(bucketRequests).Get(itob(id))
	if v == nil {
		return rec, ErrNotFound
	}
	err := json.Unmarshal(v, &rec)
	return rec, err
}

func toSubscription(tx *bolt.Tx, rec requestRecord) (Subscription, error) {
	from, err := time.Parse(dateLayout, rec.FromDate)
	if err != nil {
		return Subscription{}, fmt.Errorf("request %d from_date: %w", rec.ID, err)
	}
	to, err := time.Parse(dateLayout, rec.ToDate)
	if err != nil {
		return Subscription{}, fmt.Errorf("request %d to_date: %w", rec.ID, err)
	}
	return Subscription{
		ID:                rec.ID,
		UserID:            rec.UserID,
		ChatID:            rec.ChatID,
		StationFrom:       rec.StationFrom,
		StationFromName:   stationName(tx, rec.StationFrom),
		StationTo:         rec.StationTo,
		StationToName:     stationName(tx, rec.StationTo),
		FromDate:          from,
		ToDate:            to,
		MinSeats:          rec.MinSeats,
		IsActive:          rec.IsActive,
		LastCheckedAt:     rec.LastCheckedAt,
		LastNotifiedAt:    rec.LastNotifiedAt,
		NotificationCount: rec.NotificationCount,
		CreatedAt:         rec.CreatedAt,
	}, nil
}

func stationName(tx *bolt.Tx, id string) string {
	var st Station
	if v := tx.Bucket(bucketStations).Get([]byte(id)); v != nil && json.Unmarshal(v, &st) == nil {
		return st.Name
	}
	return id
}

func userByID(tx *bolt.Tx, id int64) (User, error) {
	var found User
	err := tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
		var u User
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		if u.ID == id {
			found = u
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	if found.ID == 0 {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return found, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// itob encodes ids big-endian so cursor order matches numeric order.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func chatKey(chatID int64) []byte {
	return []byte(strconv.FormatInt(chatID, 10))
}
