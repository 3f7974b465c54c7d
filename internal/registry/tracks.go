package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"sfu-gateway/internal/model"
)

// TrackChanges is the result of one wait on a room's change stream.
type TrackChanges struct {
	// Cursor is the position to resume from on the next wait.
	Cursor string
	Events []model.TrackInfoEvent
}

// StartCursor returns the id of the newest entry in roomID's change stream,
// or "0" when the stream is empty, so a wait started from it sees exactly
// the changes appended afterwards. Ids come from the store's clock, not
// ours. If the stream cannot be read the local clock is used instead.
func (r *Registry) StartCursor(ctx context.Context, roomID model.RoomID) string {
	key := keyNotification(keyRoomTracks(roomID))
	msgs, err := r.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		r.logger.Warn("read change stream head failed", "room_id", roomID, "error", err)
		return strconv.FormatInt(r.now().UnixMilli()-1, 10) + "-0"
	}
	if len(msgs) == 0 {
		return "0"
	}
	return msgs[0].ID
}

// AddTrack records track in roomID, or refreshes its last-seen time. A
// change notification is published only when the track is new.
func (r *Registry) AddTrack(ctx context.Context, roomID model.RoomID, track model.TrackInfo) error {
	member, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("encode track: %w", err)
	}

	key := keyRoomTracks(roomID)
	added, err := r.client.ZAddArgs(ctx, key, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(r.now().UnixMilli()), Member: string(member)}},
	}).Result()
	if err != nil {
		return fmt.Errorf("add track to room %s: %w", roomID, err)
	}
	if err := r.client.PExpire(ctx, key, r.cfg.LivenessWindow).Err(); err != nil {
		r.logger.Warn("refresh room track expiry failed", "room_id", roomID, "error", err)
	}

	if added > 0 {
		r.publish(ctx, roomID, model.AddEvent(track))
	}
	return nil
}

// RemoveTrack deletes every record of producerID from roomID and publishes
// a removal if anything was deleted.
func (r *Registry) RemoveTrack(ctx context.Context, roomID model.RoomID, producerID model.ProducerID) error {
	key := keyRoomTracks(roomID)

	var members []interface{}
	err := r.scanTracks(ctx, key, func(member string, _ float64) {
		var t model.TrackInfo
		if json.Unmarshal([]byte(member), &t) == nil && t.ProducerID == producerID {
			members = append(members, member)
		}
	})
	if err != nil {
		return fmt.Errorf("scan room %s tracks: %w", roomID, err)
	}
	if len(members) == 0 {
		return nil
	}

	removed, err := r.client.ZRem(ctx, key, members...).Result()
	if err != nil {
		return fmt.Errorf("remove track from room %s: %w", roomID, err)
	}
	if removed > 0 {
		r.publish(ctx, roomID, model.RemoveEvent(producerID))
	}
	return nil
}

// GetTracksInRoom returns the tracks refreshed within the liveness window.
// Unreadable records are skipped and store failures yield an empty list.
func (r *Registry) GetTracksInRoom(ctx context.Context, roomID model.RoomID) []model.TrackInfo {
	key := keyRoomTracks(roomID)
	cutoff := r.cutoff()
	r.purgeExpired(ctx, key, cutoff)

	tracks := []model.TrackInfo{}
	err := r.scanTracks(ctx, key, func(member string, score float64) {
		if int64(score) <= cutoff {
			return
		}
		var t model.TrackInfo
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			r.logger.Debug("dropping unreadable track record", "room_id", roomID, "error", err)
			return
		}
		tracks = append(tracks, t)
	})
	if err != nil {
		r.logger.Warn("listing room tracks failed", "room_id", roomID, "error", err)
		return []model.TrackInfo{}
	}
	return tracks
}

// scanTracks walks the sorted set at key without blocking the server.
func (r *Registry) scanTracks(ctx context.Context, key string, fn func(member string, score float64)) error {
	var cursor uint64
	for {
		items, next, err := r.client.ZScan(ctx, key, cursor, "", 0).Result()
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(items); i += 2 {
			score, err := strconv.ParseFloat(items[i+1], 64)
			if err != nil {
				continue
			}
			fn(items[i], score)
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// publish appends event to the room's change stream. Failures are logged:
// the membership change has already been applied and stays applied.
func (r *Registry) publish(ctx context.Context, roomID model.RoomID, event model.TrackInfoEvent) {
	b, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("encode track event failed", "room_id", roomID, "error", err)
		return
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: keyNotification(keyRoomTracks(roomID)),
		MaxLen: r.cfg.NotificationMaxLen,
		Approx: true,
		ID:     "*",
		Values: []interface{}{"json", string(b)},
	}).Err()
	if err != nil {
		r.logger.Warn("publish track event failed", "room_id", roomID, "error", err)
	}
}

// AwaitTrackChanges blocks for up to the poll timeout waiting for entries
// after cursor in roomID's change stream. On timeout the same cursor is
// returned with no events. An empty cursor reads from the beginning.
//
// The read runs on the blocking client, which checks out a connection for
// the duration of the call and returns it to its own pool afterwards.
func (r *Registry) AwaitTrackChanges(ctx context.Context, roomID model.RoomID, cursor string) (TrackChanges, error) {
	if cursor == "" {
		cursor = "0"
	}

	key := keyNotification(keyRoomTracks(roomID))
	streams, err := r.blocking.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, cursor},
		Block:   r.cfg.PollTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return TrackChanges{Cursor: cursor}, nil
	}
	if err != nil {
		return TrackChanges{Cursor: cursor}, fmt.Errorf("read room %s changes: %w", roomID, err)
	}

	changes := TrackChanges{Cursor: cursor}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			changes.Cursor = msg.ID
			event, ok := decodeStreamEvent(msg.Values)
			if !ok {
				r.logger.Debug("dropping unreadable track event", "room_id", roomID, "id", msg.ID)
				continue
			}
			changes.Events = append(changes.Events, event)
		}
	}
	return changes, nil
}

func decodeStreamEvent(values map[string]interface{}) (model.TrackInfoEvent, bool) {
	raw, ok := values["json"].(string)
	if !ok {
		return model.TrackInfoEvent{}, false
	}
	var event model.TrackInfoEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return model.TrackInfoEvent{}, false
	}
	return event, true
}
