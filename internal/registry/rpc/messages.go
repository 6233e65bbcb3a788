package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	keyID        = "id"
	keyName      = "name"
	keyMimeType  = "mimeType"
	keySizeBytes = "sizeBytes"
	keyPayload   = "payload"
	keyCreatedAt = "createdAt"
	keyRecords   = "records"
)

var ErrMalformedMessage = errors.New("malformed registry message")

// FromNewFile encodes a create request.
func FromNewFile(f domain.NewFile) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyName:      structpb.NewStringValue(f.Name),
		keyMimeType:  structpb.NewStringValue(f.MimeType),
		keySizeBytes: structpb.NewNumberValue(float64(f.SizeBytes)),
		keyPayload:   structpb.NewStringValue(f.Payload),
	}}
}

// ToNewFile decodes a create request.
func ToNewFile(s *structpb.Struct) (domain.NewFile, error) {
	fields := s.GetFields()
	size, err := sizeOf(fields)
	if err != nil {
		return domain.NewFile{}, err
	}
	return domain.NewFile{
		Name:      fields[keyName].GetStringValue(),
		MimeType:  fields[keyMimeType].GetStringValue(),
		SizeBytes: size,
		Payload:   fields[keyPayload].GetStringValue(),
	}, nil
}

// FromRecord encodes a stored record. Pending records carry an empty
// createdAt.
func FromRecord(r domain.FileRecord) *structpb.Struct {
	createdAt := ""
	if !r.Pending() {
		createdAt = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyID:        structpb.NewStringValue(r.ID),
		keyName:      structpb.NewStringValue(r.Name),
		keyMimeType:  structpb.NewStringValue(r.MimeType),
		keySizeBytes: structpb.NewNumberValue(float64(r.SizeBytes)),
		keyPayload:   structpb.NewStringValue(r.Payload),
		keyCreatedAt: structpb.NewStringValue(createdAt),
	}}
}

// ToRecord decodes a stored record.
func ToRecord(s *structpb.Struct) (domain.FileRecord, error) {
	fields := s.GetFields()
	id := fields[keyID].GetStringValue()
	if id == "" {
		return domain.FileRecord{}, fmt.Errorf("%w: record without id", ErrMalformedMessage)
	}
	size, err := sizeOf(fields)
	if err != nil {
		return domain.FileRecord{}, err
	}

	var createdAt time.Time
	if raw := fields[keyCreatedAt].GetStringValue(); raw != "" {
		createdAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.FileRecord{}, fmt.Errorf("%w: createdAt: %v", ErrMalformedMessage, err)
		}
	}

	return domain.FileRecord{
		ID:        id,
		Name:      fields[keyName].GetStringValue(),
		MimeType:  fields[keyMimeType].GetStringValue(),
		SizeBytes: size,
		Payload:   fields[keyPayload].GetStringValue(),
		CreatedAt: createdAt,
	}, nil
}

// FromSnapshot encodes one Watch message.
func FromSnapshot(snap domain.Snapshot) *structpb.Struct {
	values := make([]*structpb.Value, len(snap.Records))
	for i, r := range snap.Records {
		values[i] = structpb.NewStructValue(FromRecord(r))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyRecords: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// ToSnapshot decodes one Watch message and restores registry order.
func ToSnapshot(s *structpb.Struct) (domain.Snapshot, error) {
	values := s.GetFields()[keyRecords].GetListValue().GetValues()
	records := make([]domain.FileRecord, 0, len(values))
	for _, v := range values {
		record, err := ToRecord(v.GetStructValue())
		if err != nil {
			return domain.Snapshot{}, err
		}
		records = append(records, record)
	}
	domain.SortRecords(records)
	return domain.Snapshot{Records: records}, nil
}

func sizeOf(fields map[string]*structpb.Value) (int64, error) {
	v, ok := fields[keySizeBytes]
	if !ok {
		return 0, nil
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, fmt.Errorf("%w: sizeBytes is not a number", ErrMalformedMessage)
	}
	n := v.GetNumberValue()
	if n < 0 {
		return 0, fmt.Errorf("%w: negative sizeBytes", ErrMalformedMessage)
	}
	return int64(n), nil
}
