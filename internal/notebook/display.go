package notebook

type ModeConfig struct {
	ID          Mode
	Label       string
	Icon        string
	Color       string
	Description string
}

type StatusConfig struct {
	ID    ProjectStatus
	Label string
	Color string
}

var modeConfigs = map[Mode]ModeConfig{
	ModeResearch: {
		ID:          ModeResearch,
		Label:       "Research",
		Icon:        "book-open",
		Color:       "blue",
		Description: "Resources, links, and articles",
	},
	ModeProject: {
		ID:          ModeProject,
		Label:       "Project",
		Icon:        "wrench",
		Color:       "amber",
		Description: "Developer journal and logs",
	},
	ModeReference: {
		ID:          ModeReference,
		Label:       "Reference",
		Icon:        "file-text",
		Color:       "green",
		Description: "Tutorials and documentation",
	},
}

var statusConfigs = map[ProjectStatus]StatusConfig{
	StatusActive:    {ID: StatusActive, Label: "Active", Color: "green"},
	StatusPaused:    {ID: StatusPaused, Label: "Paused", Color: "yellow"},
	StatusCompleted: {ID: StatusCompleted, Label: "Completed", Color: "blue"},
	StatusArchived:  {ID: StatusArchived, Label: "Archived", Color: "gray"},
}

func (m Mode) Config() ModeConfig {
	if cfg, ok := modeConfigs[m]; ok {
		return cfg
	}
	return ModeConfig{ID: m, Label: string(m)}
}

func (s ProjectStatus) Config() StatusConfig {
	if cfg, ok := statusConfigs[s]; ok {
		return cfg
	}
	return StatusConfig{ID: s, Label: string(s)}
}
