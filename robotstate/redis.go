package robotstate

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func robotKey(robotID string) string {
	return "missiond:robot:" + robotID
}

const allRobotsKey = "missiond:robots"

func (r *RedisStore) SetRobot(ctx context.Context, state *RobotState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, robotKey(state.RobotID), data, 0)
	pipe.SAdd(ctx, allRobotsKey, state.RobotID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetRobot(ctx context.Context, robotID string) (*RobotState, error) {
	data, err := r.client.Get(ctx, robotKey(robotID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state RobotState
	return &state, json.Unmarshal(data, &state)
}

func (r *RedisStore) AllRobots(ctx context.Context) ([]*RobotState, error) {
	ids, err := r.client.SMembers(ctx, allRobotsKey).Result()
	if err != nil {
		return nil, err
	}
	var states []*RobotState
	for _, id := range ids {
		state, err := r.GetRobot(ctx, id)
		if err != nil || state == nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}
