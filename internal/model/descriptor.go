package model

import (
	"fmt"
	"strings"
)

// MissionDescriptor is the static pipeline shape of one mission type.
// Descriptors are compiled into the registry at build time and never mutated.
type MissionDescriptor struct {
	ID                     string
	Name                   string
	Kind                   MissionKind
	NeedsFeatureExtraction bool
	NeedsCaption           bool
	NeedsGenderParam       bool
	NeedsPublicUpload      bool
	SubjectCount           int
	CapabilitySlot         string
	ModelID                string
	DefaultCaption         string
	// PromptTemplates hold the {{TAGS}} placeholder filled with the cleaned
	// feature-extraction output.
	PromptTemplates map[Gender]PromptTemplate
	CaptionPrompt   string
}

type PromptTemplate struct {
	Positive string
	Negative string
}

// RenderPrompts fills the gendered prompt pair with extracted feature tags.
// Missions without prompt templates render empty prompts; the workflow's own
// graph then decides the styling.
func (d MissionDescriptor) RenderPrompts(g Gender, tags []string) (positive, negative string) {
	tpl, ok := d.PromptTemplates[g]
	if !ok {
		if tpl, ok = d.PromptTemplates[GenderFemale]; !ok {
			return "", ""
		}
	}
	joined := strings.Join(tags, ", ")
	return strings.ReplaceAll(tpl.Positive, "{{TAGS}}", joined),
		strings.ReplaceAll(tpl.Negative, "{{TAGS}}", joined)
}

const defaultCaption = "新年大吉，福运亨通！"

var missionTable = map[string]MissionDescriptor{
	"M1": {
		ID: "M1", Name: "新年3D头像", Kind: KindSingle,
		NeedsFeatureExtraction: true, NeedsCaption: true, NeedsGenderParam: true,
		NeedsPublicUpload: true, SubjectCount: 1,
		CapabilitySlot: "image-controlnet", ModelID: "flux-dev",
		DefaultCaption: defaultCaption,
		PromptTemplates: map[Gender]PromptTemplate{
			GenderFemale: {
				Positive: "pixar style 3d portrait, {{TAGS}}, chinese new year outfit, festive red background, soft cinematic lighting",
				Negative: "low quality, distorted, extra fingers, watermark",
			},
			GenderMale: {
				Positive: "pixar style 3d portrait, {{TAGS}}, chinese new year outfit, festive red background, soft cinematic lighting",
				Negative: "low quality, distorted, extra fingers, watermark",
			},
		},
		CaptionPrompt: "根据这张皮克斯风格的春节头像，生成一句8-12字的吉祥话，要求：押韵、喜庆、有文化底蕴。只输出文案，不要解释。图片：%s",
	},
	"M2": {
		ID: "M2", Name: "财神变身", Kind: KindSingle,
		NeedsCaption: true, NeedsGenderParam: true,
		NeedsPublicUpload: true, SubjectCount: 1,
		CapabilitySlot: "image-faceswap", ModelID: "face-swap-hd",
		DefaultCaption: "马年财运旺，财神到你家！",
		CaptionPrompt:  "你是春节财神语录生成器。请根据这张财神变身成片，输出1-2句马年祝福语，喜庆、接地气、有财气氛围。要求：必须包含“马年”，不要加标题、不要解释、不要加引号。图片：%s",
	},
	"M3": {
		ID: "M3", Name: "情侣合照", Kind: KindMulti,
		NeedsCaption: true, NeedsPublicUpload: true, SubjectCount: 2,
		CapabilitySlot: "image-faceswap", ModelID: "face-swap-hd",
		DefaultCaption: defaultCaption,
		CaptionPrompt:  "根据这张春节合照，生成一句8-12字的吉祥话，喜庆、押韵。只输出文案。图片：%s",
	},
	"M4": {
		ID: "M4", Name: "全家福", Kind: KindMulti,
		NeedsCaption: true, NeedsPublicUpload: true, SubjectCount: 3,
		CapabilitySlot: "image-faceswap", ModelID: "face-swap-hd",
		DefaultCaption: defaultCaption,
		CaptionPrompt:  "根据这张全家福，生成一句8-12字的团圆吉祥话。只输出文案。图片：%s",
	},
	"M5": {
		ID: "M5", Name: "语音贺卡", Kind: KindCard,
		CapabilitySlot: "speech", ModelID: "cosy-voice",
		DefaultCaption: defaultCaption,
	},
	"M6": {
		ID: "M6", Name: "老照片修复", Kind: KindRestore,
		NeedsPublicUpload: true, SubjectCount: 1,
		CapabilitySlot: "image-restore", ModelID: "photo-restore",
	},
	"M7": {
		ID: "M7", Name: "运势抽卡", Kind: KindCard,
		CapabilitySlot: "local", ModelID: "card-draw",
	},
	"M11": {
		ID: "M11", Name: "数字人拜年", Kind: KindSingle,
		NeedsPublicUpload: true, SubjectCount: 1,
		CapabilitySlot: "image-faceswap", ModelID: "face-swap-hd",
	},
}

// Registry returns the compiled mission table. The returned map is shared;
// callers must treat it as read-only.
func Registry() map[string]MissionDescriptor {
	return missionTable
}

// Lookup resolves a mission id against the registry.
func Lookup(missionID string) (MissionDescriptor, error) {
	d, ok := missionTable[missionID]
	if !ok {
		return MissionDescriptor{}, fmt.Errorf("unknown mission: %s", missionID)
	}
	return d, nil
}
