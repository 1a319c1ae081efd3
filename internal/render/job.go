package render

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kiranshivaraju/vdogen/pkg/models"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	ContainerName = "script-runner"
	AppLabel      = "vdogen-render"

	keyVolumeName = "gcp-keys-volume"
	keyMountPath  = "/var/secrets/google"
)

// renderScript fetches the code object, renders it, packages the result as AES-128
// encrypted HLS and uploads video_$ID to the bucket's videos/ prefix. The end marker is
// printed even when the renderer fails so its output can be recovered from the pod log.
const renderScript = `set -u
gcloud auth activate-service-account --key-file=` + keyMountPath + `/key.json || exit 1
gsutil cp "gs://$BUCKET/$CODE_OBJECT" script.py || exit 1
echo ` + LogStartMarker + `
rc=0
manim script.py -o rendered.mp4 -r "$RESOLUTION" --fps "$FPS" --format mp4 --media_dir . 2>&1 || rc=$?
echo ` + LogEndMarker + `
[ "$rc" -eq 0 ] || exit "$rc"
set -e
VIDEO_PATH=$(find videos -type f -name rendered.mp4 | head -n 1)
mkdir "video_$ID"
openssl rand 16 > "video_$ID/enc.key"
echo "enc.key" > "video_$ID/enc.keyinfo"
echo "video_$ID/enc.key" >> "video_$ID/enc.keyinfo"
openssl rand -hex 16 >> "video_$ID/enc.keyinfo"
ffmpeg -i "$VIDEO_PATH" -codec: copy -hls_time 5 -hls_playlist_type vod -hls_segment_filename "video_$ID/segment_%03d.ts" -hls_key_info_file "video_$ID/enc.keyinfo" "video_$ID/playlist.m3u8"
rm "video_$ID/enc.keyinfo"
gsutil -m cp -r "video_$ID" "gs://$BUCKET/videos"
`

// JobConfig holds the cluster-wide settings every render job shares.
type JobConfig struct {
	Namespace        string
	Image            string
	Bucket           string
	KeySecret        string
	TTLAfterFinished time.Duration
	ActiveDeadline   time.Duration
	BackoffLimit     int
}

// JobSpec describes one render.
type JobSpec struct {
	VideoID    int64
	CodeObject string
	Specs      models.VideoSpecs
}

// JobName is the render job name for a video.
func JobName(videoID int64) string {
	return fmt.Sprintf("job-%d", videoID)
}

// BuildJob assembles the batch Job manifest for spec.
func BuildJob(cfg JobConfig, spec JobSpec) (*batchv1.Job, error) {
	resolution, err := Dimensions(spec.Specs.AspectRatio, spec.Specs.Resolution)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		"app":      AppLabel,
		"video-id": strconv.FormatInt(spec.VideoID, 10),
	}
	ttl := int32(cfg.TTLAfterFinished.Seconds())
	deadline := int64(cfg.ActiveDeadline.Seconds())
	backoff := int32(cfg.BackoffLimit)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      JobName(spec.VideoID),
			Namespace: cfg.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   &deadline,
			BackoffLimit:            &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    ContainerName,
						Image:   cfg.Image,
						Command: []string{"sh", "-c", renderScript},
						Env: []corev1.EnvVar{
							{Name: "CODE_OBJECT", Value: spec.CodeObject},
							{Name: "RESOLUTION", Value: resolution},
							{Name: "FPS", Value: spec.Specs.FPS},
							{Name: "BUCKET", Value: cfg.Bucket},
							{Name: "ID", Value: strconv.FormatInt(spec.VideoID, 10)},
						},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      keyVolumeName,
							ReadOnly:  true,
							MountPath: keyMountPath,
						}},
					}},
					Volumes: []corev1.Volume{{
						Name: keyVolumeName,
						VolumeSource: corev1.VolumeSource{
							Secret: &corev1.SecretVolumeSource{SecretName: cfg.KeySecret},
						},
					}},
				},
			},
		},
	}, nil
}
