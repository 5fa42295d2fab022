package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/NainaKothari-14/drawtogether/backend/internal/presence"
)

// PresenceCache shares board presence between server instances.
type PresenceCache interface {
	AddMember(ctx context.Context, board string, m presence.Member, ttl time.Duration) error
	RemoveMember(ctx context.Context, board, identity string) error
	GetBoards(ctx context.Context) ([]string, error)
	GetAliveMembers(ctx context.Context, board string) ([]presence.Member, error)
	SetCursor(ctx context.Context, board, identity string, c presence.Cursor, ttl time.Duration) error
	GetCursor(ctx context.Context, board, identity string) (presence.Cursor, bool, error)
}

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// AddMember also refreshes the member's TTL.
func (p *redisPresence) AddMember(ctx context.Context, board string, m presence.Member, ttl time.Duration) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tx := p.rdb.TxPipeline()
	// score is expireAt, a logical TTL per member
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, boardKey(board), redis.Z{Score: float64(expireAt), Member: m.Identity})
	tx.HSet(ctx, namesKey(board), m.Identity, b)
	_, err = tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, board, identity string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, boardKey(board), identity)
	tx.HDel(ctx, namesKey(board), identity)
	tx.Del(ctx, cursorKey(board, identity))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetBoards(ctx context.Context) ([]string, error) {
	var boards []string
	iter := p.rdb.Scan(ctx, 0, boardKeyPattern, 0).Iterator()
	for iter.Next(ctx) {
		if b := strings.TrimPrefix(iter.Val(), "presence:board:"); b != "" {
			boards = append(boards, b)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return boards, nil
}

var pruneScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

// GetAliveMembers prunes expired members and returns the rest, oldest
// expiry first.
func (p *redisPresence) GetAliveMembers(ctx context.Context, board string) ([]presence.Member, error) {
	now := time.Now().Unix()
	_, err := pruneScript.Run(ctx, p.rdb, []string{boardKey(board), namesKey(board)}, now).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	alive, err := p.rdb.ZRangeByScore(ctx, boardKey(board), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(alive) == 0 {
		return nil, nil
	}

	vals, err := p.rdb.HMGet(ctx, namesKey(board), alive...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	members := make([]presence.Member, 0, len(alive))
	for i, v := range vals {
		m := presence.Member{Identity: alive[i]}
		if s, ok := v.(string); ok {
			_ = json.Unmarshal([]byte(s), &m)
			m.Identity = alive[i]
		}
		members = append(members, m)
	}
	return members, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, board, identity string, c presence.Cursor, ttl time.Duration) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return p.rdb.Set(ctx, cursorKey(board, identity), b, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, board, identity string) (presence.Cursor, bool, error) {
	var c presence.Cursor
	b, err := p.rdb.Get(ctx, cursorKey(board, identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, false, err
	}
	return c, true, nil
}
