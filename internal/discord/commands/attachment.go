package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

// DefaultMaxAttachmentBytes caps a downloaded voice message.
const DefaultMaxAttachmentBytes = 10 << 20

// ErrAttachmentTooLarge is returned when an attachment exceeds the size cap.
var ErrAttachmentTooLarge = errors.New("attachment too large")

// AttachmentFormat returns the audio format of an attachment from its content
// type, falling back to the filename extension. Non-audio attachments yield
// [stt.FormatUnknown].
func AttachmentFormat(a *discordgo.MessageAttachment) stt.Format {
	if a == nil {
		return stt.FormatUnknown
	}
	if f := stt.FormatFromMIME(a.ContentType); f != stt.FormatUnknown {
		return f
	}
	switch strings.ToLower(filepath.Ext(a.Filename)) {
	case ".ogg", ".oga", ".opus":
		return stt.FormatOgg
	case ".wav":
		return stt.FormatWAV
	case ".webm":
		return stt.FormatWebM
	case ".mp3":
		return stt.FormatMP3
	case ".flac":
		return stt.FormatFLAC
	case ".m4a", ".mp4", ".aac":
		return stt.FormatM4A
	}
	return stt.FormatUnknown
}

// FirstAudio returns the first audio attachment, or nil.
func FirstAudio(attachments []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, a := range attachments {
		if AttachmentFormat(a) != stt.FormatUnknown {
			return a
		}
	}
	return nil
}

// FirstAttachment extracts the first attachment from an interaction's resolved
// data. Returns nil if no attachments are present or the interaction is not
// an application command.
func FirstAttachment(i *discordgo.InteractionCreate) *discordgo.MessageAttachment {
	if i.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	data := i.ApplicationCommandData()
	if data.Resolved == nil || len(data.Resolved.Attachments) == 0 {
		return nil
	}
	for _, a := range data.Resolved.Attachments {
		return a
	}
	return nil
}

// DownloadAudio fetches an attachment, refusing anything larger than max
// bytes both by the size Discord reports and by what is actually read.
func DownloadAudio(ctx context.Context, client *http.Client, a *discordgo.MessageAttachment, max int64) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("attachment is nil")
	}
	if int64(a.Size) > max {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrAttachmentTooLarge, a.Size, max)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAttachmentTooLarge, max)
	}
	return data, nil
}
