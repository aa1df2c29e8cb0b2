package vision

import (
	"context"
	"fmt"
	"os"
	"strings"

	visionapi "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
)

// Annotator extracts raw text hints from question images. Used alongside
// the multimodal model during extraction; an empty result is not an error.
type Annotator interface {
	DetectText(ctx context.Context, images [][]byte) ([]string, error)
	Close() error
}

// batchClient is the slice of the generated ImageAnnotatorClient we use.
type batchClient interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

type annotator struct {
	log    *logger.Logger
	client batchClient
}

// Enabled reports whether OCR hinting is configured for this process.
func Enabled() bool {
	return strings.EqualFold(os.Getenv("VISION_OCR_ENABLED"), "true")
}

func New(ctx context.Context, log *logger.Logger) (Annotator, error) {
	client, err := visionapi.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &annotator{log: log.With("client", "VisionAnnotator"), client: client}, nil
}

func (a *annotator) DetectText(ctx context.Context, images [][]byte) ([]string, error) {
	requests := make([]*visionpb.AnnotateImageRequest, len(images))
	for i, data := range images {
		requests[i] = &visionpb.AnnotateImageRequest{
			Image: &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
			},
		}
	}
	batch, err := a.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: requests,
	})
	if err != nil {
		return nil, fmt.Errorf("annotate images: %w", err)
	}
	out := make([]string, 0, len(images))
	for i, resp := range batch.GetResponses() {
		if resp.GetError() != nil {
			a.log.Warn("Vision annotation error", "index", i, "message", resp.GetError().GetMessage())
			out = append(out, "")
			continue
		}
		out = append(out, resp.GetFullTextAnnotation().GetText())
	}
	return out, nil
}

func (a *annotator) Close() error {
	return a.client.Close()
}
