package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/wildlife-reid/internal/annotation"
)

func TestTable(t *testing.T) {
	t.Parallel()

	out := Table([]annotation.Annotation{
		{
			FileName:         "inputs/demo/IMG_0001.jpg",
			CroppedFileName:  "outputs/demo/cropped_images/crop_0000_IMG_0001_Crocuta_crocuta.jpg",
			BBoxConfidence:   0.912,
			PredictedSpecies: "Crocuta_crocuta",
			PredictedName:    "H_7",
		},
		{
			FileName:         "inputs/demo/IMG_0002.jpg",
			PredictedSpecies: annotation.Undetected,
			PredictedName:    annotation.Undetected,
		},
	})

	assert.Contains(t, out, "IMG_0001.jpg")
	assert.Contains(t, out, "crop_0000_IMG_0001_Crocuta_crocuta.jpg")
	assert.Contains(t, out, "0.91")
	assert.Contains(t, out, "H_7")
	assert.Contains(t, out, "undetected")
	assert.NotContains(t, out, "inputs/demo")
}
