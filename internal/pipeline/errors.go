package pipeline

import "github.com/radiotel/ingestd/pkg/ingesterr"

func unknownKindError(kind string) error {
	return ingesterr.New(ingesterr.ConfigInvalid, "pipeline", "unknown task kind "+kind)
}
