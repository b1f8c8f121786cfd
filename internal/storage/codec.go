package storage

import (
	"encoding/json"
	"errors"

	"prunenet/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp sets the current schema and codec versions.
func Stamp(v *model.VersionedRecord) {
	v.SchemaVersion = CurrentSchemaVersion
	v.CodecVersion = CurrentCodecVersion
}

func EncodeNetwork(snapshot model.NetworkSnapshot) ([]byte, error) {
	return json.Marshal(snapshot)
}

func DecodeNetwork(data []byte) (model.NetworkSnapshot, error) {
	var snapshot model.NetworkSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.NetworkSnapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.NetworkSnapshot{}, err
	}
	return snapshot, nil
}

func EncodeRunSummary(summary model.RunSummary) ([]byte, error) {
	return json.Marshal(summary)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func EncodePruneEvents(events []model.PruneEvent) ([]byte, error) {
	return json.Marshal(events)
}

func DecodePruneEvents(data []byte) ([]model.PruneEvent, error) {
	var events []model.PruneEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func EncodeStepMetrics(metrics []model.StepMetrics) ([]byte, error) {
	return json.Marshal(metrics)
}

func DecodeStepMetrics(data []byte) ([]model.StepMetrics, error) {
	var metrics []model.StepMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
