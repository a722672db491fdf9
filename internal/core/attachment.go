package core

import "strings"

// DetectAttachmentKind buckets a draft's attachments into a single histogram
// category. Kinds are checked in priority order across the whole list: a
// shared link anywhere wins over archives, archives over spreadsheets, and so
// on, so one message lands in exactly one bucket.
func DetectAttachmentKind(attachments []Attachment) string {
	if len(attachments) == 0 {
		return AttachmentNone
	}

	for _, item := range attachments {
		if isLink(item) {
			return AttachmentLink
		}
	}
	for _, item := range attachments {
		if isZip(item) {
			return AttachmentZip
		}
	}
	for _, item := range attachments {
		if isXlsx(item) {
			return AttachmentXlsx
		}
	}
	for _, item := range attachments {
		if isPdf(item) {
			return AttachmentPdf
		}
	}
	return AttachmentOther
}

func isLink(item Attachment) bool {
	return item.IsLink || strings.ToLower(item.ContentType) == "text/uri-list"
}

func isZip(item Attachment) bool {
	name := strings.ToLower(item.Name)
	contentType := strings.ToLower(item.ContentType)
	return strings.HasSuffix(name, ".zip") ||
		strings.HasSuffix(name, ".7z") ||
		strings.HasSuffix(name, ".rar") ||
		strings.Contains(contentType, "zip")
}

func isXlsx(item Attachment) bool {
	name := strings.ToLower(item.Name)
	contentType := strings.ToLower(item.ContentType)
	return strings.HasSuffix(name, ".xlsx") ||
		strings.HasSuffix(name, ".xls") ||
		strings.Contains(contentType, "spreadsheet")
}

func isPdf(item Attachment) bool {
	return strings.HasSuffix(strings.ToLower(item.Name), ".pdf") ||
		strings.Contains(strings.ToLower(item.ContentType), "pdf")
}
