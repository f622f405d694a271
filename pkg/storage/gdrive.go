package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	mimeTypeDriveFolder = "application/vnd.google-apps.folder"
	driveListFields     = "nextPageToken,files(id,name,mimeType,createdTime)"
	driveFileFields     = "id,name,mimeType,createdTime"
)

type DriveStorageOpts struct {
	Service *drive.Service
	// FolderID is the Drive folder all paths are resolved from.
	FolderID string
	// UseTrash moves removed nodes to the trash instead of deleting them permanently.
	UseTrash   bool
	Duplicates DuplicateLeaves
	Logger     *slog.Logger
}

// driveTree maps tree nodes onto Drive files. Node IDs are Drive file IDs.
// Drive allows several files with one name under one parent, lookups return
// them oldest first.
type driveTree struct {
	svc      *drive.Service
	rootID   string
	useTrash bool
}

var _ Tree = &driveTree{}

// NewDrive verifies the root folder is reachable and returns a tree-walking Backend over it.
func NewDrive(ctx context.Context, o *DriveStorageOpts) (Backend, error) {
	if o == nil || o.Service == nil {
		return nil, newConfigError("drive service is not set", nil)
	}
	if o.FolderID == "" {
		return nil, newConfigError("drive folder id is not set", nil)
	}
	root, err := o.Service.Files.Get(o.FolderID).
		SupportsAllDrives(true).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("get root folder '"+o.FolderID+"'", googleError(err))
	}
	if root.MimeType != mimeTypeDriveFolder {
		return nil, newConfigError("drive root '"+o.FolderID+"' is not a folder", nil)
	}
	return NewTreeStorage(&driveTree{svc: o.Service, rootID: root.Id, useTrash: o.UseTrash}, &TreeOpts{
		Name:       "gdrive",
		Duplicates: o.Duplicates,
		Logger:     o.Logger,
	}), nil
}

func (d *driveTree) RootID() string {
	return d.rootID
}

func (d *driveTree) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	res, err := d.svc.Files.List().
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Q(folderQuery(parentID, name)).
		OrderBy("createdTime").
		Fields(driveListFields).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, googleError(err)
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

// FolderExists treats trashed folders as gone: Drive still accepts
// children under them, but lookups never see those children.
func (d *driveTree) FolderExists(ctx context.Context, id string) (bool, error) {
	f, err := d.svc.Files.Get(id).
		SupportsAllDrives(true).
		Fields("id,mimeType,trashed").
		Context(ctx).
		Do()
	if err != nil {
		if isDriveNotFound(err) {
			return false, nil
		}
		return false, googleError(err)
	}
	return !f.Trashed && f.MimeType == mimeTypeDriveFolder, nil
}

func (d *driveTree) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: mimeTypeDriveFolder,
		Parents:  []string{parentID},
	}).
		SupportsAllDrives(true).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	if err != nil {
		return "", googleError(err)
	}
	return f.Id, nil
}

func (d *driveTree) FindLeaves(ctx context.Context, parentID, name string) ([]string, error) {
	var ids []string
	err := d.svc.Files.List().
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Q(leafQuery(parentID, name)).
		OrderBy("createdTime").
		Fields(driveListFields).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				ids = append(ids, f.Id)
			}
			return nil
		})
	if err != nil {
		return nil, googleError(err)
	}
	return ids, nil
}

func (d *driveTree) CreateLeaf(ctx context.Context, parentID, name string, content []byte) error {
	_, err := d.svc.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{parentID},
	}).
		Media(bytes.NewReader(content), googleapi.ContentType("application/octet-stream")).
		SupportsAllDrives(true).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	return googleError(err)
}

func (d *driveTree) UpdateLeaf(ctx context.Context, id string, content []byte) error {
	_, err := d.svc.Files.Update(id, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType("application/octet-stream")).
		SupportsAllDrives(true).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	return googleError(err)
}

func (d *driveTree) ReadLeaf(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.svc.Files.Get(id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, googleError(err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// RemoveFolder relies on Drive removing (or trashing) the descendants with the folder.
func (d *driveTree) RemoveFolder(ctx context.Context, id string) error {
	return d.remove(ctx, id)
}

func (d *driveTree) RemoveLeaf(ctx context.Context, id string) error {
	return d.remove(ctx, id)
}

func (d *driveTree) remove(ctx context.Context, id string) error {
	var err error
	if d.useTrash {
		_, err = d.svc.Files.Update(id, &drive.File{Trashed: true}).
			SupportsAllDrives(true).
			Fields("id").
			Context(ctx).
			Do()
	} else {
		err = d.svc.Files.Delete(id).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	}
	if isDriveNotFound(err) {
		return nil
	}
	return googleError(err)
}

func folderQuery(parentID, name string) string {
	return fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), mimeTypeDriveFolder)
}

func leafQuery(parentID, name string) string {
	return fmt.Sprintf("name = '%s' and '%s' in parents and mimeType != '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), mimeTypeDriveFolder)
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	return s
}

func isDriveNotFound(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusNotFound
}
