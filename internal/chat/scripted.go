package chat

import (
	"sync"
	"time"
)

// ScriptedEvent is one entry of a canned event script: the event to push and
// how long to wait after the previous one.
type ScriptedEvent struct {
	After time.Duration
	Event AgentEvent
}

// ScriptedSource replays a fixed event script for any subscribed task. It
// implements the same EventSource contract as the live SSE adapter and is
// injected explicitly where a scripted orchestrator is wanted (demo mode,
// tests) instead of living as hidden global state.
type ScriptedSource struct {
	script []ScriptedEvent
}

func NewScriptedSource(script []ScriptedEvent) *ScriptedSource {
	return &ScriptedSource{script: script}
}

// Subscribe starts replaying the script. The returned cancel function stops
// delivery; onEvent is never invoked after it returns.
func (s *ScriptedSource) Subscribe(taskID string, onEvent func(AgentEvent)) (func(), error) {
	done := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, entry := range s.script {
			select {
			case <-done:
				return
			case <-time.After(entry.After):
			}
			select {
			case <-done:
				return
			default:
				onEvent(entry.Event)
			}
		}
	}()

	cancel := func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
	return cancel, nil
}

// DemoScript is the multi-stage music-video production run used by demo mode:
// reasoning steps interleaved with paid swaps that first arrive as pending
// transactions and are later superseded by their final, hash-bearing
// counterparts, ending with generated media links.
func DemoScript() []ScriptedEvent {
	return []ScriptedEvent{
		{After: 800 * time.Millisecond, Event: AgentEvent{
			Kind:    KindReasoning,
			Content: "I have received the request to create an AI-generated music video. I will split the task into several steps: generating the song, generating the script, creating images, generating videos, and finally compiling everything into a single MP4 file.",
		}},
		{After: 1700 * time.Millisecond, Event: AgentEvent{
			Kind:    KindReasoning,
			Content: "I have checked the subscription plan for the Song Generator (did:nv:0c63e2e0449afd88...). There's insufficient balance, so I need to purchase credits. The agent accepts payments in VIRTUAL; I must perform a swap to acquire 1 VIRTUAL.",
		}},
		{After: 1200 * time.Millisecond, Event: AgentEvent{
			Kind:    KindTransaction,
			Content: "Swap completed to obtain 1 VIRTUAL.",
		}},
		{After: 2500 * time.Millisecond, Event: AgentEvent{
			Kind:    KindTransaction,
			Content: "Swap completed to obtain 1 VIRTUAL.",
			TxHash:  "0x1d465ab71cd0c77252f4aade9ea12d7b9f06e62d154a89e863c1ba0ef28257ef",
		}},
		{After: 1200 * time.Millisecond, Event: AgentEvent{
			Kind:    KindReasoning,
			Content: "Credits purchased for 1 VIRTUAL under the Song Generator plan. The credit balance has been updated successfully.",
		}},
		{After: 4000 * time.Millisecond, Event: AgentEvent{
			Kind:    KindAnswer,
			Content: "Here is the generated song 'Shattered Reflections of Silence': https://cdn.ttapi.io/suno/2025-03-28/307287f8-70df-4032-96c3-277e8d5e2be5.mp3",
			Attachments: &Attachments{
				MimeType: "audio/mpeg",
				Parts:    []string{"https://cdn.ttapi.io/suno/2025-03-28/307287f8-70df-4032-96c3-277e8d5e2be5.mp3"},
			},
		}},
		{After: 1500 * time.Millisecond, Event: AgentEvent{
			Kind:    KindReasoning,
			Content: "Now I will create the music video script. Checking the subscription plan for the Script Generator (did:nv:f6a20637d1bca9ea...). I have found insufficient balance. The agent requires payment in LARRY; I need to swap 0.1 USDC for 100 LARRY.",
		}},
		{After: 2200 * time.Millisecond, Event: AgentEvent{
			Kind:    KindTransaction,
			Content: "Swap completed to obtain 100 LARRY.",
			TxHash:  "0xf9c7409e15a08cbaa58b9f9b360ec0f020cd33a9c7a9ceefee3ef3a5a257a564",
		}},
		{After: 1800 * time.Millisecond, Event: AgentEvent{
			Kind:    KindReasoning,
			Content: "Script and prompts have been successfully generated. Scenes, camera movements, characters, and locations are defined. Next, I'm moving on to image generation for 8 characters and 5 settings.",
		}},
		{After: 3500 * time.Millisecond, Event: AgentEvent{
			Kind:    KindAnswer,
			Content: "Images for the characters and settings were successfully generated:\n\nhttps://v3.fal.media/files/panda/X5YwwVFpLLN6Wy_qOZkaU.png\nhttps://v3.fal.media/files/penguin/a9D_YfNE-8bAlhBRX2tKh.png\nhttps://v3.fal.media/files/kangaroo/bt88ZAR8UG2PaVBYsfeTx.png",
			Attachments: &Attachments{
				MimeType: "image/png",
				Parts: []string{
					"https://v3.fal.media/files/panda/X5YwwVFpLLN6Wy_qOZkaU.png",
					"https://v3.fal.media/files/penguin/a9D_YfNE-8bAlhBRX2tKh.png",
					"https://v3.fal.media/files/kangaroo/bt88ZAR8UG2PaVBYsfeTx.png",
				},
			},
		}},
		{After: 1500 * time.Millisecond, Event: AgentEvent{
			Kind:    KindReasoning,
			Content: "I am now creating 18 video generation tasks based on the script prompts, each executed concurrently under the same subscription plan. I am merging the video tracks without audio first, then adding the generated song.",
		}},
		{After: 4500 * time.Millisecond, Event: AgentEvent{
			Kind:    KindFinalAnswer,
			Content: "The final video 'Shattered Reflections of Silence' has been uploaded to S3: https://nvm-music-video-swarm-bck.s3.eu-central-1.amazonaws.com/shattered_reflections_of_silence.mp4",
			Attachments: &Attachments{
				MimeType: "video/mp4",
				Parts:    []string{"https://nvm-music-video-swarm-bck.s3.eu-central-1.amazonaws.com/shattered_reflections_of_silence.mp4"},
			},
		}},
	}
}
