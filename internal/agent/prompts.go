package agent

import "strings"

// Prompts resolves prompt templates by name. Built-in templates can be
// replaced per name through the config `prompts` section; template content
// is configuration, not logic.
type Prompts struct {
	overrides map[string]string
}

// NewPrompts builds a resolver with the given config overrides layered over
// the built-in templates. A nil map keeps the defaults.
func NewPrompts(overrides map[string]string) *Prompts {
	return &Prompts{overrides: overrides}
}

// Render resolves the named template and substitutes every "{key}"
// placeholder with vars[key]. Unknown template names render empty.
func (p *Prompts) Render(name string, vars map[string]string) string {
	tmpl, ok := "", false
	if p != nil && p.overrides != nil {
		tmpl, ok = p.overrides[name]
	}
	if !ok {
		tmpl, ok = defaultPrompts[name]
	}
	if !ok {
		return ""
	}
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Template names.
const (
	PromptChannelNames      = "channel_names"
	PromptVideoIdeas        = "video_ideas"
	PromptScript            = "script"
	PromptThumbnailAnalysis = "thumbnail_analysis"
	PromptThumbnailSummary  = "thumbnail_summary"
	PromptScriptPattern     = "script_pattern"
	PromptContentStrategy   = "content_strategy"
	PromptChannelConcept    = "channel_concept"
	PromptAudienceProfile   = "audience_profile"
	PromptCharacterConcept  = "character_concept"
	PromptScene             = "scene_prompt"
	PromptStylePrefix       = "image_style_prefix"
	PromptNegative          = "image_negative"
	PromptSystemStrategist  = "system_strategist"
	PromptSystemArtDirector = "system_art_director"
	PromptJSONRetry         = "json_retry"

	PromptReplicationPositioning = "replication_positioning"
	PromptReplicationFormats     = "replication_content_formats"
	PromptReplicationThumbnail   = "replication_thumbnail_title"
	PromptReplicationScript      = "replication_script_template"
	PromptReplicationOperations  = "replication_operations"
	PromptReplicationRoadmap     = "replication_growth_roadmap"
)

var defaultPrompts = map[string]string{
	PromptSystemStrategist: `당신은 유튜브 채널 기획과 성장 전략을 전문으로 하는 한국어 콘텐츠 전략가입니다. 항상 요청된 형식 그대로 답변합니다.`,

	PromptSystemArtDirector: `You are an art director writing prompts for a diffusion image model. Answer in the exact format requested, nothing else.`,

	PromptJSONRetry: `

중요: 반드시 다른 텍스트나 설명 없이 유효한 JSON 객체 하나만 출력하세요.`,

	PromptChannelNames: `다음 주제로 유튜브 채널을 시작하려고 합니다.

주제: {topic}
{refinement}
기억하기 쉽고 주제가 드러나는 한국어 채널 이름 {count}개를 제안해주세요.

아래 JSON 형식으로만 답변하세요:
{"channel_names": ["이름1", "이름2", ...]}`,

	PromptVideoIdeas: `채널 "{channel_name}"의 영상 아이디어 {count}개를 기획해주세요.

채널 컨셉: {concept}
타깃 시청자: {audience}
{guidance}
벤치마크 분석에서 검증된 패턴을 반영하고, 각 아이디어는 제목과 기획 의도, 타깃, 기대 포인트를 포함하세요.

아래 JSON 형식으로만 답변하세요:
{"video_ideas": [{"title": "...", "concept": "...", "target_audience": "...", "estimated_appeal": "..."}]}`,

	PromptScript: `다음 영상의 대본을 작성해주세요.

제목: {idea_title}
기획 의도: {idea_concept}
타깃 시청자: {target_audience}

참고할 대본 패턴:
{script_pattern}
{instruction}
대본은 여섯 부분으로 나누어 작성하세요: 오프닝 훅, 도입, 본론 1~3, 마무리.
각 부분은 실제로 읽을 내레이션 문장으로 작성하세요.

아래 JSON 형식으로만 답변하세요:
{"title": "...", "sections": {"opening": "...", "intro": "...", "body1": "...", "body2": "...", "body3": "...", "conclusion": "..."}}`,

	PromptThumbnailAnalysis: `첫 번째 이미지는 유튜브 채널의 영상 목록 페이지이고, 나머지는 개별 썸네일입니다. 이 채널의 썸네일 패턴을 분석해주세요: 색상 팔레트, 텍스트 스타일과 배치, 인물 표정, 공통 구성 요소, 그리고 전체 요약을 한국어로 정리하세요.`,

	PromptThumbnailSummary: `다음은 한 유튜브 채널의 썸네일을 비전 모델이 관찰한 내용입니다.

{observations}

이 관찰을 바탕으로 채널의 썸네일 전략을 정리해주세요: 반복되는 디자인 규칙, 클릭을 유도하는 요소, 새 채널이 참고할 핵심 포인트를 한국어로 작성하세요.`,

	PromptScriptPattern: `다음은 한 유튜브 채널의 인기 영상 자막입니다.

{transcripts}

이 채널의 대본 패턴을 분석해주세요: 도입부 훅 방식, 전체 구성, 말투와 톤, 반복되는 표현, 구독/좋아요 유도 방식, 평균 길이를 한국어로 정리하세요.`,

	PromptContentStrategy: `다음은 한 유튜브 채널의 최근 영상 목록입니다 (제목 | 조회수 | 길이 | 업로드일).

{videos}

이 채널의 콘텐츠 전략을 분석해주세요: 핵심 콘텐츠 기둥, 업로드 주기, 영상 길이 패턴, 다루는 트렌드, 시청자 참여 전술을 한국어로 정리하세요.`,

	PromptChannelConcept: `다음 유튜브 채널 정보를 바탕으로 채널의 핵심 컨셉을 분석해주세요.

채널 정보:
{metadata}

콘텐츠 전략 분석:
{strategy}

채널의 한 줄 컨셉, 차별화 포인트, 브랜드 보이스를 한국어로 정리하세요.`,

	PromptAudienceProfile: `다음은 한 유튜브 채널의 최근 영상 제목들입니다.

{titles}

이 채널의 시청자층을 분석해주세요: 인구통계 특성, 관심사, 해결하고 싶은 문제, 선호하는 콘텐츠 형태를 한국어로 정리하세요.`,

	PromptReplicationPositioning: `다음 벤치마크 분석을 바탕으로, 이와 같은 채널을 새로 시작할 때의 포지셔닝 전략을 제안해주세요. 차별화 각도와 초기 컨셉 문장을 포함하세요.

{report}`,

	PromptReplicationFormats: `다음 벤치마크 분석을 바탕으로, 새 채널이 운영할 콘텐츠 포맷 3~5개를 제안해주세요. 포맷별 구성과 제작 난이도를 포함하세요.

{report}`,

	PromptReplicationThumbnail: `다음 벤치마크 분석을 바탕으로, 새 채널의 썸네일과 제목 템플릿을 제안해주세요. 썸네일 구성 규칙과 제목 공식 예시를 포함하세요.

{report}`,

	PromptReplicationScript: `다음 벤치마크 분석을 바탕으로, 새 채널이 사용할 대본 템플릿을 제안해주세요. 오프닝 훅, 본론 전개, 마무리 구조를 단계별로 정리하세요.

{report}`,

	PromptReplicationOperations: `다음 벤치마크 분석을 바탕으로, 새 채널의 운영 플레이북을 제안해주세요. 업로드 주기, 제작 워크플로, 커뮤니티 관리 방법을 포함하세요.

{report}`,

	PromptReplicationRoadmap: `다음 벤치마크 분석을 바탕으로, 새 채널의 첫 90일 성장 로드맵을 제안해주세요. 단계별 목표와 첫 영상 10개의 방향을 포함하세요.

{report}`,

	PromptCharacterConcept: `Turn this Korean character concept into one English prompt for a diffusion image model. Describe the character's appearance, outfit, expression and overall style in comma-separated keywords. Output the prompt only, no quotes and no explanations.

Concept: {concept}`,

	PromptScene: `You are writing prompts for one scene of a vertical short-form video.

Narration sentence (Korean): {sentence}
Character: {character}
Art style: {style}

Respond with ONLY a JSON object in this exact shape:
{"image_prompt": "<English diffusion prompt for this scene>", "video_prompt": "<short camera/motion direction>", "expression": "<character facial expression>", "props": ["<prop>", ...]}`,

	PromptStylePrefix: `masterpiece, best quality, consistent character design`,

	PromptNegative: `blurry, low quality, deformed hands, extra fingers, watermark, text, signature`,
}
