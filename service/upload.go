package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/flowrelay/flowrelay/model"
)

// ProgressFunc receives upload progress as a percentage in 0..100.
type ProgressFunc func(percent int)

// UploadFiles sends file-bearing requests through the engine's multipart
// path. Progress is reported per file part written; the engine's reply has
// the same shape as an invoke response.
func (c *Client) UploadFiles(ctx context.Context, files []model.FileUpload, req *model.InvokeRequest, auth Auth, onProgress ProgressFunc) (*model.InvokeResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	requestData, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := writer.WriteField("fileDataRequest", string(requestData)); err != nil {
		return nil, err
	}

	total := 0
	for _, f := range files {
		total += len(f.Content)
	}
	written := 0
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, err
		}
		written += len(f.Content)
		if onProgress != nil && total > 0 {
			onProgress(written * 100 / total)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	if onProgress != nil {
		onProgress(100)
	}

	url := fmt.Sprintf("%s/api/run/1/state/%s/file", c.conf.BaseUrl, req.StateId)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var resp model.InvokeResponse
	if err := c.do(httpReq, &resp, auth); err != nil {
		return nil, err
	}
	return &resp, nil
}
