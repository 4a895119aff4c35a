package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/repository"
)

// VideoHandler handles video catalog API endpoints.
type VideoHandler struct {
	db *gorm.DB
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(db *gorm.DB) *VideoHandler {
	return &VideoHandler{db: db}
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/v1/videos",
		Summary:     "List videos",
		Tags:        []string{"Videos"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}",
		Summary:     "Get video",
		Tags:        []string{"Videos"},
	}, h.Get)
}

// ListVideosInput is the input for listing videos.
type ListVideosInput struct {
	TranscodeStatus []int    `query:"transcode_status" doc:"Transcode status codes to include"`
	IsVR            *bool    `query:"is_vr" doc:"Filter by VR flag"`
	Codec           []string `query:"codec" doc:"Codec names to include"`
	MinBitrate      *int     `query:"min_bitrate" doc:"Minimum bitrate in kbps"`
	MaxBitrate      *int     `query:"max_bitrate" doc:"Maximum bitrate in kbps"`
	MinSize         *float64 `query:"min_size" doc:"Minimum file size in MB"`
	MaxSize         *float64 `query:"max_size" doc:"Maximum file size in MB"`
	Page            int      `query:"page" default:"1" minimum:"1" doc:"Page number"`
	PageSize        int      `query:"page_size" default:"50" minimum:"1" maximum:"1000" doc:"Page size"`
	SortBy          string   `query:"sort_by" default:"path" enum:"path,bitrate,size,updated_at,total_pixels" doc:"Sort column"`
	Order           string   `query:"order" default:"asc" enum:"asc,desc" doc:"Sort direction"`
}

// ListVideosOutput is the output for listing videos.
type ListVideosOutput struct {
	Body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Videos     []VideoResponse `json:"videos"`
			Pagination PaginationMeta  `json:"pagination"`
		} `json:"data"`
	}
}

// List returns catalog entries matching the filters.
func (h *VideoHandler) List(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	filter := repository.VideoFilter{
		IsVR:       input.IsVR,
		Codecs:     input.Codec,
		MinBitrate: input.MinBitrate,
		MaxBitrate: input.MaxBitrate,
		MinSizeMB:  input.MinSize,
		MaxSizeMB:  input.MaxSize,
		SortBy:     input.SortBy,
		Order:      input.Order,
		Offset:     (input.Page - 1) * input.PageSize,
		Limit:      input.PageSize,
	}
	for _, code := range input.TranscodeStatus {
		status := models.VideoStatus(code)
		if !status.IsValid() {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid transcode_status %d", code))
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	videos, total, err := repository.NewVideoRepository(h.db).List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list videos", err)
	}

	resp := &ListVideosOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data.Videos = make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp.Body.Data.Videos = append(resp.Body.Data.Videos, VideoFromModel(v))
	}
	resp.Body.Data.Pagination = NewPaginationMeta(filter.Offset, input.PageSize, total)
	return resp, nil
}

// GetVideoInput is the input for getting a video.
type GetVideoInput struct {
	ID string `path:"id" doc:"Video ID (ULID)"`
}

// GetVideoOutput is the output for getting a video.
type GetVideoOutput struct {
	Body struct {
		Code    int           `json:"code"`
		Message string        `json:"message"`
		Data    VideoResponse `json:"data"`
	}
}

// Get returns a catalog entry by ID.
func (h *VideoHandler) Get(ctx context.Context, input *GetVideoInput) (*GetVideoOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid video ID", err)
	}

	video, err := repository.NewVideoRepository(h.db).GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load video", err)
	}
	if video == nil {
		return nil, huma.Error404NotFound("video not found")
	}

	resp := &GetVideoOutput{}
	resp.Body.Code = 200
	resp.Body.Message = "ok"
	resp.Body.Data = VideoFromModel(video)
	return resp, nil
}
