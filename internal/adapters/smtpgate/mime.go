package smtpgate

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// extractContent pulls the plain-text body and attachment descriptors out of
// a parsed message. Non-multipart messages are treated as a single text body;
// parts carrying a filename become attachments.
func extractContent(msg *mail.Message) (string, []core.Attachment, error) {
	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return "", nil, readErr
		}
		return string(body), nil, nil
	}

	boundary, ok := params["boundary"]
	if !ok {
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return "", nil, readErr
		}
		return string(body), nil, nil
	}

	reader := multipart.NewReader(msg.Body, boundary)
	var text bytes.Buffer
	var attachments []core.Attachment

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		partType := strings.ToLower(part.Header.Get("Content-Type"))
		filename := part.FileName()

		if filename != "" {
			attachments = append(attachments, core.Attachment{
				Name:        filename,
				ContentType: partType,
			})
			continue
		}
		if strings.Contains(partType, "text/plain") || partType == "" {
			content, err := io.ReadAll(part)
			if err != nil {
				continue
			}
			text.Write(content)
			text.WriteString("\n")
		}
	}

	return text.String(), attachments, nil
}
