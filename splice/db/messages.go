package db

import (
	"encoding/json"
	"time"

	"splice.sh/core/splice/models"
)

func (d *DB) AddMessage(role models.Role, content string, artifactIDs []string) (models.Message, error) {
	if artifactIDs == nil {
		artifactIDs = []string{}
	}
	ids, err := json.Marshal(artifactIDs)
	if err != nil {
		return models.Message{}, err
	}

	now := time.Now().UTC()
	res, err := d.Exec(`
		insert into messages (role, content, artifact_ids, created)
		values (?, ?, ?, ?)
	`, role, content, string(ids), now.Format(time.RFC3339Nano))
	if err != nil {
		return models.Message{}, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, err
	}

	return models.Message{
		ID:          id,
		Role:        role,
		Content:     content,
		ArtifactIDs: artifactIDs,
		CreatedAt:   now,
	}, nil
}

func (d *DB) GetMessages() ([]models.Message, error) {
	rows, err := d.Query(`
		select id, role, content, artifact_ids, created
		from messages
		order by id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var ids, created string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ids, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &m.ArtifactIDs); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return msgs, nil
}

func (d *DB) ClearMessages() error {
	_, err := d.Exec(`delete from messages`)
	return err
}
