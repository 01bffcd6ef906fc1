package ai

// ModelInfo describes one selectable backend model.
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

// Catalog lists the chat and image models offered to clients, with the
// configured defaults flagged.
type Catalog struct {
	Chat  []ModelInfo `json:"chat"`
	Image []ModelInfo `json:"image"`
}

// Models returns the catalog for the configured provider. The configured
// default model is always listed, even when the catalog list omits it.
func (s *Service) Models() Catalog {
	return Catalog{
		Chat:  catalogEntries(s.cfg.ChatModels, s.cfg.ChatModel),
		Image: catalogEntries(s.cfg.ImageModels, s.cfg.ImageModel),
	}
}

func catalogEntries(ids []string, defaultID string) []ModelInfo {
	if defaultID != "" && !containsID(ids, defaultID) {
		ids = append([]string{defaultID}, ids...)
	}
	models := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		models = append(models, ModelInfo{ID: id, Name: id, Default: id == defaultID})
	}
	return models
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
