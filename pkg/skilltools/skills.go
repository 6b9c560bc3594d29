package skilltools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/skilllearn/ent"
	"github.com/codeready-toolchain/skilllearn/ent/skill"
	"github.com/codeready-toolchain/skilllearn/ent/skillfile"
)

func handleCreateSkill(ctx context.Context, sctx *Context, arguments json.RawMessage) (string, error) {
	var args struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Path        string `json:"path"`
		Content     string `json:"content"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("create_skill: invalid arguments: %w", err)
	}
	if args.Name == "" || args.Path == "" {
		return "", fmt.Errorf("create_skill: 'name' and 'path' are required")
	}
	if !sctx.HasReportedThinking {
		return "", fmt.Errorf("create_skill: must call report_thinking before mutating skills")
	}

	tx, err := sctx.DB.Tx(ctx)
	if err != nil {
		return "", fmt.Errorf("create_skill: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	skillID := uuid.NewString()
	_, err = tx.Skill.Create().
		SetID(skillID).
		SetLearningSpaceID(sctx.LearningSpaceID).
		SetName(args.Name).
		SetDescription(args.Description).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return "", fmt.Errorf("create_skill: a skill named %q already exists in this learning space", args.Name)
		}
		return "", fmt.Errorf("create_skill: %w", err)
	}

	_, err = tx.SkillFile.Create().
		SetID(uuid.NewString()).
		SetSkillID(skillID).
		SetPath(args.Path).
		SetContent(args.Content).
		Save(ctx)
	if err != nil {
		return "", fmt.Errorf("create_skill: write %s: %w", args.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("create_skill: commit: %w", err)
	}
	return fmt.Sprintf("created skill %q with file %s", args.Name, args.Path), nil
}

func handleEditSkill(ctx context.Context, sctx *Context, arguments json.RawMessage) (string, error) {
	var args struct {
		SkillName string `json:"skill_name"`
		Path      string `json:"path"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("edit_skill: invalid arguments: %w", err)
	}
	if args.SkillName == "" || args.Path == "" {
		return "", fmt.Errorf("edit_skill: 'skill_name' and 'path' are required")
	}
	if !sctx.HasReportedThinking {
		return "", fmt.Errorf("edit_skill: must call report_thinking before mutating skills")
	}

	sk, err := lookupSkill(ctx, sctx, args.SkillName)
	if err != nil {
		return "", err
	}

	existing, err := sctx.DB.SkillFile.Query().
		Where(skillfile.SkillIDEQ(sk.ID), skillfile.PathEQ(args.Path)).
		Only(ctx)
	switch {
	case err == nil:
		if _, err := existing.Update().SetContent(args.Content).Save(ctx); err != nil {
			return "", fmt.Errorf("edit_skill: update %s: %w", args.Path, err)
		}
	case ent.IsNotFound(err):
		if _, err := sctx.DB.SkillFile.Create().
			SetID(uuid.NewString()).
			SetSkillID(sk.ID).
			SetPath(args.Path).
			SetContent(args.Content).
			Save(ctx); err != nil {
			return "", fmt.Errorf("edit_skill: create %s: %w", args.Path, err)
		}
	default:
		return "", fmt.Errorf("edit_skill: look up %s: %w", args.Path, err)
	}

	return fmt.Sprintf("wrote %s in skill %q", args.Path, args.SkillName), nil
}

func handleListSkillFiles(ctx context.Context, sctx *Context, arguments json.RawMessage) (string, error) {
	var args struct {
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("list_skill_files: invalid arguments: %w", err)
	}

	sk, err := lookupSkill(ctx, sctx, args.SkillName)
	if err != nil {
		return "", err
	}

	files, err := sctx.DB.SkillFile.Query().
		Where(skillfile.SkillIDEQ(sk.ID)).
		Order(ent.Asc(skillfile.FieldPath)).
		All(ctx)
	if err != nil {
		return "", fmt.Errorf("list_skill_files: %w", err)
	}
	if len(files) == 0 {
		return "(no files)", nil
	}

	paths, err := json.Marshal(pathsOf(files))
	if err != nil {
		return "", fmt.Errorf("list_skill_files: marshal: %w", err)
	}
	return string(paths), nil
}

func handleReadSkillFile(ctx context.Context, sctx *Context, arguments json.RawMessage) (string, error) {
	var args struct {
		SkillName string `json:"skill_name"`
		Path      string `json:"path"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("read_skill_file: invalid arguments: %w", err)
	}

	sk, err := lookupSkill(ctx, sctx, args.SkillName)
	if err != nil {
		return "", err
	}

	f, err := sctx.DB.SkillFile.Query().
		Where(skillfile.SkillIDEQ(sk.ID), skillfile.PathEQ(args.Path)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return "", fmt.Errorf("read_skill_file: %s has no file %s", args.SkillName, args.Path)
		}
		return "", fmt.Errorf("read_skill_file: %w", err)
	}
	return f.Content, nil
}

func handleDeleteSkill(ctx context.Context, sctx *Context, arguments json.RawMessage) (string, error) {
	var args struct {
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("delete_skill: invalid arguments: %w", err)
	}
	if !sctx.HasReportedThinking {
		return "", fmt.Errorf("delete_skill: must call report_thinking before mutating skills")
	}

	sk, err := lookupSkill(ctx, sctx, args.SkillName)
	if err != nil {
		return "", err
	}

	tx, err := sctx.DB.Tx(ctx)
	if err != nil {
		return "", fmt.Errorf("delete_skill: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.SkillFile.Delete().Where(skillfile.SkillIDEQ(sk.ID)).Exec(ctx); err != nil {
		return "", fmt.Errorf("delete_skill: delete files: %w", err)
	}
	if err := tx.Skill.DeleteOneID(sk.ID).Exec(ctx); err != nil {
		return "", fmt.Errorf("delete_skill: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("delete_skill: commit: %w", err)
	}
	return fmt.Sprintf("deleted skill %q", args.SkillName), nil
}

func lookupSkill(ctx context.Context, sctx *Context, name string) (*ent.Skill, error) {
	if name == "" {
		return nil, fmt.Errorf("'skill_name' is required")
	}
	sk, err := sctx.DB.Skill.Query().
		Where(skill.LearningSpaceIDEQ(sctx.LearningSpaceID), skill.NameEQ(name)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("no skill named %q in this learning space", name)
		}
		return nil, fmt.Errorf("look up skill %q: %w", name, err)
	}
	return sk, nil
}

func pathsOf(files []*ent.SkillFile) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}
