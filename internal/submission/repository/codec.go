package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"gradehub/internal/submission/model"
)

// JSON column codecs. Encoders never emit NULL for empty collections (an empty
// array keeps the column queryable); decoders accept NULL and empty strings
// from partially-written rows and substitute zero values.

func encodeFailTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode fail_tags failed: %w", err)
	}
	return string(data), nil
}

func decodeFailTags(column sql.NullString) ([]string, error) {
	if !column.Valid || column.String == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(column.String), &tags); err != nil {
		return nil, fmt.Errorf("decode fail_tags failed: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func encodeFeedback(feedback []model.FeedbackItem) (string, error) {
	if feedback == nil {
		feedback = []model.FeedbackItem{}
	}
	data, err := json.Marshal(feedback)
	if err != nil {
		return "", fmt.Errorf("encode feedback failed: %w", err)
	}
	return string(data), nil
}

func decodeFeedback(column sql.NullString) ([]model.FeedbackItem, error) {
	if !column.Valid || column.String == "" {
		return []model.FeedbackItem{}, nil
	}
	var feedback []model.FeedbackItem
	if err := json.Unmarshal([]byte(column.String), &feedback); err != nil {
		return nil, fmt.Errorf("decode feedback failed: %w", err)
	}
	if feedback == nil {
		feedback = []model.FeedbackItem{}
	}
	return feedback, nil
}

func encodeMetrics(metrics model.Metrics) (string, error) {
	data, err := json.Marshal(metrics)
	if err != nil {
		return "", fmt.Errorf("encode metrics failed: %w", err)
	}
	return string(data), nil
}

func decodeMetrics(column sql.NullString) (model.Metrics, error) {
	if !column.Valid || column.String == "" {
		return model.Metrics{}, nil
	}
	var metrics model.Metrics
	if err := json.Unmarshal([]byte(column.String), &metrics); err != nil {
		return model.Metrics{}, fmt.Errorf("decode metrics failed: %w", err)
	}
	return metrics, nil
}
