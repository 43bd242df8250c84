package pictures

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/weatherstation/internal/config"
)

// nameLayout is the file stem written by the camera, e.g. 2024-05-04_1030.jpg.
const nameLayout = "2006-01-02_1504"

// Client is the picture service.
type Client interface {
	Login(ctx context.Context) error
	UploadPicture(ctx context.Context, cameraID, path string, takenAt time.Time) error
}

type Report struct {
	Found    int
	Uploaded int
	Deleted  int
	Failed   int
	Elapsed  time.Duration
}

// Uploader publishes the pictures of a directory to one camera.
type Uploader struct {
	client      Client
	dir         string
	cameraID    string
	deleteAfter bool
	log         logrus.FieldLogger
	now         func() time.Time
}

func New(client Client, cfg config.PicturesConfig, log logrus.FieldLogger) *Uploader {
	return &Uploader{
		client:      client,
		dir:         cfg.Dir,
		cameraID:    cfg.CameraID,
		deleteAfter: cfg.DeleteAfterPublish,
		log:         log.WithField("component", "pictures"),
		now:         time.Now,
	}
}

// TakenAt parses the capture time from a picture file name.
func TakenAt(path string) (time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t, err := time.ParseInLocation(nameLayout, stem, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("picture %s: name is not YYYY-MM-DD_HHMM: %w", filepath.Base(path), err)
	}
	return t, nil
}

// Run logs in and uploads every picture. A failing picture is logged and
// left in place; only login and directory errors fail the run.
func (u *Uploader) Run(ctx context.Context) (Report, error) {
	start := u.now()
	var report Report

	if err := u.client.Login(ctx); err != nil {
		return report, fmt.Errorf("login: %w", err)
	}

	u.log.Infof("Parsing %s", u.dir)
	files, err := listPictures(u.dir)
	if err != nil {
		return report, err
	}
	report.Found = len(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := u.publish(ctx, path); err != nil {
			report.Failed++
			u.log.WithError(err).Warnf("Could not publish %s", filepath.Base(path))
			continue
		}
		report.Uploaded++

		if u.deleteAfter {
			if err := os.Remove(path); err != nil {
				u.log.WithError(err).Warnf("Could not delete %s", path)
				continue
			}
			report.Deleted++
		}
	}

	report.Elapsed = u.now().Sub(start)
	u.log.Infof("Posted %d in %s", report.Uploaded, report.Elapsed)
	return report, nil
}

func (u *Uploader) publish(ctx context.Context, path string) error {
	takenAt, err := TakenAt(path)
	if err != nil {
		return err
	}
	u.log.Debugf("Publishing %s taken at %s", path, takenAt)
	return u.client.UploadPicture(ctx, u.cameraID, path, takenAt)
}

// listPictures returns the .jpg files of dir sorted by name, which for the
// camera's naming scheme is capture order.
func listPictures(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read picture dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".jpg") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
