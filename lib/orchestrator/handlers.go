// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/settings"
	"github.com/bureau-foundation/tabrecord/lib/transfer"
)

// decode unmarshals a request payload, mapping failures to
// protocol.ErrInvalidRequest.
func decode(message *bus.Message, v any) error {
	if err := message.Decode(v); err != nil {
		return protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	return nil
}

func (o *Orchestrator) handleGetRecordingState(ctx context.Context, message *bus.Message) (any, error) {
	return o.State(), nil
}

func (o *Orchestrator) handleStartRecording(ctx context.Context, message *bus.Message) (any, error) {
	return o.RequestRecording(ctx)
}

func (o *Orchestrator) handleStopRecording(ctx context.Context, message *bus.Message) (any, error) {
	if err := o.StopRecording(ctx); err != nil {
		return nil, err
	}
	return o.State(), nil
}

func (o *Orchestrator) handleSaveRecording(ctx context.Context, message *bus.Message) (any, error) {
	var request protocol.SaveRecording
	if err := decode(message, &request); err != nil {
		return nil, err
	}
	o.endRecording(ctx)

	if len(request.Data) == 0 {
		return nil, protocol.ErrEmptyRecording
	}
	if request.Digest != "" {
		want, err := transfer.ParseDigest(request.Digest)
		if err != nil {
			return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
		}
		if transfer.Sum(request.Data) != want {
			err := protocol.Errorf(protocol.CodeIntegrity, "recording from %s does not match its digest", message.From)
			o.notifyFailure(ctx, err)
			return nil, err
		}
	}
	return o.persist(ctx, request.Data, request.ContentType)
}

func (o *Orchestrator) handleBeginTransfer(ctx context.Context, message *bus.Message) (any, error) {
	var request protocol.BeginTransfer
	if err := decode(message, &request); err != nil {
		return nil, err
	}
	id, err := o.receiver.Begin(request)
	if err != nil {
		return nil, err
	}
	return protocol.BeginTransferResult{TransferID: id}, nil
}

func (o *Orchestrator) handleChunk(ctx context.Context, message *bus.Message) (any, error) {
	var chunk protocol.Chunk
	if err := decode(message, &chunk); err != nil {
		return nil, err
	}
	received, err := o.receiver.Put(chunk)
	if err != nil {
		return nil, err
	}
	return protocol.ChunkAck{Received: received}, nil
}

func (o *Orchestrator) handleFinalizeTransfer(ctx context.Context, message *bus.Message) (any, error) {
	var request protocol.FinalizeTransfer
	if err := decode(message, &request); err != nil {
		return nil, err
	}
	o.endRecording(ctx)

	recording, err := o.receiver.Finalize(request.TransferID)
	if err != nil {
		o.logger.Error("transfer failed", "transfer_id", request.TransferID, "error", err)
		if !errors.Is(err, protocol.ErrUnknownTransfer) {
			o.notifyFailure(ctx, err)
		}
		return nil, err
	}
	return o.persist(ctx, recording.Data, recording.ContentType)
}

func (o *Orchestrator) handleAbortTransfer(ctx context.Context, message *bus.Message) (any, error) {
	var request protocol.AbortTransfer
	if err := decode(message, &request); err != nil {
		return nil, err
	}
	dropped := o.receiver.Abort(request.TransferID)
	o.logger.Warn("recording aborted by agent",
		"from", message.From,
		"transfer_id", request.TransferID,
		"dropped", dropped,
		"code", request.Code,
		"reason", request.Reason,
	)
	o.endRecording(ctx)
	return nil, nil
}

func (o *Orchestrator) persist(ctx context.Context, data []byte, contentType string) (any, error) {
	fileID, err := o.persister.Persist(ctx, data, contentType)
	if err != nil {
		o.logger.Error("persisting recording failed", "size", len(data), "error", err)
		o.notifyFailure(ctx, err)
		return nil, err
	}
	return protocol.SaveResult{FileID: fileID, Size: int64(len(data))}, nil
}

func (o *Orchestrator) handleGetSettings(ctx context.Context, message *bus.Message) (any, error) {
	return o.loadSettings(ctx), nil
}

func (o *Orchestrator) handleUpdateSettings(ctx context.Context, message *bus.Message) (any, error) {
	var patch protocol.SettingsPatch
	if err := decode(message, &patch); err != nil {
		return nil, err
	}
	updated, err := o.UpdateSettings(ctx, patch.Values)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateSettings validates and stores a partial settings update, then
// broadcasts the result as settings_updated.
func (o *Orchestrator) UpdateSettings(ctx context.Context, patch map[string]any) (settings.Settings, error) {
	if o.store == nil {
		return settings.Settings{}, protocol.Errorf(protocol.CodeInvalidRequest, "no settings store configured")
	}

	o.settingsMu.Lock()
	current, err := settings.Load(ctx, o.store)
	if err != nil {
		o.settingsMu.Unlock()
		return settings.Settings{}, err
	}
	updated, err := settings.Apply(current, patch)
	if err != nil {
		o.settingsMu.Unlock()
		return settings.Settings{}, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	err = settings.Save(ctx, o.store, updated)
	o.settingsMu.Unlock()
	if err != nil {
		return settings.Settings{}, err
	}

	o.logger.Info("settings updated", "keys", len(patch))
	if err := o.conn.Broadcast(ctx, protocol.ActionSettingsUpdated, updated); err != nil {
		o.logger.Warn("broadcasting settings failed", "error", err)
	}
	return updated, nil
}
