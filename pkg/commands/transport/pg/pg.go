//nolint:whitespace //can't make both the linter and editor happy :(
package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/simrigs/rig-commander/pkg/model"
	"github.com/simrigs/rig-commander/pkg/repository"
)

// batch size for a single pending fetch
const fetchLimit = 10

// Transport reads and writes the backend-owned command table directly.
// Semantically equivalent to the REST facade: status filter, ordered by
// creation time, limited batch.
type Transport struct {
	conn     repository.Querier
	deviceID string
}

func NewTransport(conn repository.Querier, deviceID string) *Transport {
	return &Transport{conn: conn, deviceID: deviceID}
}

const selector = string(`select id, action, cmd_type, params, created_at, status
from rig_command`)

func (t *Transport) FetchPending(ctx context.Context) ([]*model.Command, error) {
	rows, err := t.conn.Query(ctx,
		selector+` where device_id=$1 and status=$2 order by created_at asc limit $3`,
		t.deviceID, string(model.StatusPending), fetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]*model.Command, 0, fetchLimit)
	for rows.Next() {
		var (
			item      model.Command
			rawParams []byte
			createdAt time.Time
		)
		if err := rows.Scan(&item.ID, &item.Action, &item.Type,
			&rawParams, &createdAt, &item.Status); err != nil {
			return nil, err
		}
		if len(rawParams) > 0 {
			if err := json.Unmarshal(rawParams, &item.Params); err != nil {
				return nil, err
			}
		}
		item.CreatedAt = createdAt
		ret = append(ret, &item)
	}
	return ret, rows.Err()
}

func (t *Transport) MarkProcessing(ctx context.Context, id string) error {
	_, err := t.conn.Exec(ctx,
		"update rig_command set status=$1 where id=$2 and device_id=$3",
		string(model.StatusProcessing), id, t.deviceID)
	return err
}

func (t *Transport) MarkComplete(
	ctx context.Context,
	id string,
	status model.CommandStatus,
	res *model.Result,
) error {
	var (
		rawResult []byte
		errMsg    *string
		err       error
	)
	if res != nil {
		if rawResult, err = json.Marshal(res); err != nil {
			return err
		}
		if !res.Success {
			errMsg = &res.Message
		}
	}
	_, err = t.conn.Exec(ctx,
		`update rig_command set status=$1, result=$2, error_message=$3, completed_at=$4
		 where id=$5 and device_id=$6`,
		string(status), rawResult, errMsg, time.Now(), id, t.deviceID)
	return err
}
