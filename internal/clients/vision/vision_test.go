package vision

import (
	"context"
	"testing"

	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/genproto/googleapis/rpc/status"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
)

type fakeBatchClient struct {
	got  *visionpb.BatchAnnotateImagesRequest
	resp *visionpb.BatchAnnotateImagesResponse
	err  error
}

func (f *fakeBatchClient) BatchAnnotateImages(_ context.Context, req *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeBatchClient) Close() error { return nil }

func TestDetectTextBatchesAllImages(t *testing.T) {
	fake := &fakeBatchClient{
		resp: &visionpb.BatchAnnotateImagesResponse{
			Responses: []*visionpb.AnnotateImageResponse{
				{FullTextAnnotation: &visionpb.TextAnnotation{Text: "F = ma"}},
				{Error: &status.Status{Message: "bad image"}},
				{},
			},
		},
	}
	a := &annotator{log: logger.Nop(), client: fake}

	hints, err := a.DetectText(context.Background(), [][]byte{
		[]byte("img-a"), []byte("img-b"), []byte("img-c"),
	})
	if err != nil {
		t.Fatalf("DetectText: %v", err)
	}
	if len(fake.got.Requests) != 3 {
		t.Fatalf("requests: want=3 got=%d", len(fake.got.Requests))
	}
	for i, req := range fake.got.Requests {
		if req.Features[0].Type != visionpb.Feature_DOCUMENT_TEXT_DETECTION {
			t.Fatalf("request %d: want DOCUMENT_TEXT_DETECTION got %v", i, req.Features[0].Type)
		}
	}
	want := []string{"F = ma", "", ""}
	if len(hints) != len(want) {
		t.Fatalf("hints: want=%d got=%d", len(want), len(hints))
	}
	for i := range want {
		if hints[i] != want[i] {
			t.Fatalf("hint %d: want=%q got=%q", i, want[i], hints[i])
		}
	}
}
